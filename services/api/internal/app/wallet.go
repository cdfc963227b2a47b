package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ghazal/internal/util"
	"ghazal/pkg/domain"
	"ghazal/pkg/email"
	"ghazal/pkg/store"
)

const recentTransferLimit = 20

// Wallet is a balance with the user's latest transfers.
type Wallet struct {
	Balance   decimal.Decimal        `json:"balance"`
	Transfers []domain.MoneyTransfer `json:"transfers"`
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}

// Wallet returns the current balance and recent sent and received transfers.
func (a *App) Wallet(user domain.User) (Wallet, error) {
	current, err := a.loadUser(user.ID)
	if err != nil {
		return Wallet{}, err
	}
	transfers, err := a.store.ListTransfers(store.TransferFilter{UserID: user.ID, Limit: recentTransferLimit})
	if err != nil {
		return Wallet{}, fmt.Errorf("list transfers: %w", err)
	}
	return Wallet{Balance: current.WalletBalance, Transfers: transfers}, nil
}

// RequestTransfer files a pending transfer for admin approval. The balance
// is checked now and again when the transfer is approved.
func (a *App) RequestTransfer(ctx context.Context, user domain.User, recipientEmail string, amount decimal.Decimal, note string) (domain.MoneyTransfer, error) {
	if !validAmount(amount) {
		return domain.MoneyTransfer{}, ErrInvalidAmount
	}
	recipient, ok, err := a.store.GetUserByEmail(strings.TrimSpace(strings.ToLower(recipientEmail)))
	if err != nil {
		return domain.MoneyTransfer{}, fmt.Errorf("fetch recipient: %w", err)
	}
	if !ok || recipient.Status == domain.StatusDisabled {
		return domain.MoneyTransfer{}, ErrRecipientNotFound
	}
	if recipient.ID == user.ID {
		return domain.MoneyTransfer{}, ErrSelfTransfer
	}
	sender, err := a.loadUser(user.ID)
	if err != nil {
		return domain.MoneyTransfer{}, err
	}
	if sender.WalletBalance.LessThan(amount) {
		return domain.MoneyTransfer{}, ErrInsufficientFunds
	}
	now := a.now()
	transfer := domain.MoneyTransfer{
		ID:          util.NewID(),
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Amount:      amount,
		Note:        strings.TrimSpace(note),
		Status:      domain.TransferPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateTransfer(transfer); err != nil {
		return domain.MoneyTransfer{}, fmt.Errorf("create transfer: %w", err)
	}
	a.metrics.RecordTransfer(string(domain.TransferPending))
	a.notifyAdmins(ctx, notice{
		Type:    domain.NotifTransferRequested,
		Title:   "Transfer awaiting approval",
		Message: fmt.Sprintf("%s wants to send %s to %s.", displayName(sender), amount.StringFixed(2), displayName(recipient)),
		Link:    "/admin/transfers/" + transfer.ID,
		Data:    map[string]string{"transferId": transfer.ID},
	}, sender.ID)
	return transfer, nil
}

// ListTransfers is the admin view of transfers, optionally filtered by status.
func (a *App) ListTransfers(status domain.TransferStatus) ([]domain.MoneyTransfer, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, status)
	}
	return a.store.ListTransfers(store.TransferFilter{Status: status})
}

// ApproveTransfer moves the money in one store transaction, re-checking the
// sender balance, then notifies both parties and emails the recipient.
func (a *App) ApproveTransfer(ctx context.Context, id string) (domain.MoneyTransfer, error) {
	transfer, err := a.store.CompleteTransfer(id, a.now())
	if err != nil {
		return domain.MoneyTransfer{}, transferErr(err)
	}
	a.metrics.RecordTransfer(string(domain.TransferCompleted))
	util.LoggerFromContext(ctx).Info("transfer completed",
		"transfer_id", transfer.ID, "amount", transfer.Amount.StringFixed(2))

	sender, err := a.loadUser(transfer.SenderID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("transfer sender lookup failed", "transfer_id", transfer.ID, "err", err)
	}
	recipient, err := a.loadUser(transfer.RecipientID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("transfer recipient lookup failed", "transfer_id", transfer.ID, "err", err)
	}
	amount := transfer.Amount.StringFixed(2)
	data := map[string]string{"transferId": transfer.ID, "amount": amount}
	a.notify(ctx, notice{
		Type:    domain.NotifTransferCompleted,
		Title:   "Transfer sent",
		Message: fmt.Sprintf("%s was sent to %s.", amount, displayName(recipient)),
		Link:    "/wallet",
		Data:    data,
	}, transfer.SenderID)
	a.notify(ctx, notice{
		Type:    domain.NotifTransferCompleted,
		Title:   "Money received",
		Message: fmt.Sprintf("You received %s from %s.", amount, displayName(sender)),
		Link:    "/wallet",
		Data:    data,
	}, transfer.RecipientID)

	if a.mailer != nil && recipient.Email != "" {
		err := a.mailer.SendTransferNotice(ctx, email.TransferNotice{
			To:            recipient.Email,
			RecipientName: displayName(recipient),
			SenderName:    displayName(sender),
			SenderEmail:   sender.Email,
			Amount:        transfer.Amount,
			Note:          transfer.Note,
			CompletedAt:   a.now(),
		})
		if err != nil {
			util.LoggerFromContext(ctx).Error("transfer notice email not queued", "transfer_id", transfer.ID, "err", err)
		}
	}
	return transfer, nil
}

// DeclineTransfer closes a pending transfer without moving money.
func (a *App) DeclineTransfer(ctx context.Context, id string) (domain.MoneyTransfer, error) {
	transfer, err := a.store.DeclineTransfer(id, a.now())
	if err != nil {
		return domain.MoneyTransfer{}, transferErr(err)
	}
	a.metrics.RecordTransfer(string(domain.TransferDeclined))
	a.notify(ctx, notice{
		Type:    domain.NotifTransferDeclined,
		Title:   "Transfer declined",
		Message: fmt.Sprintf("Your transfer of %s was declined.", transfer.Amount.StringFixed(2)),
		Link:    "/wallet",
		Data:    map[string]string{"transferId": transfer.ID},
	}, transfer.SenderID)
	return transfer, nil
}

func transferErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrTransferNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrTransferNotPending
	case errors.Is(err, store.ErrInsufficientFunds):
		return ErrInsufficientFunds
	default:
		return fmt.Errorf("decide transfer: %w", err)
	}
}

// CreditWallet tops up a user's balance.
func (a *App) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal, note string) (domain.User, error) {
	if !validAmount(amount) {
		return domain.User{}, ErrInvalidAmount
	}
	user, err := a.store.CreditWallet(userID, amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("credit wallet: %w", err)
	}
	util.LoggerFromContext(ctx).Info("wallet credited", "user_id", userID, "amount", amount.StringFixed(2))
	message := fmt.Sprintf("%s was added to your wallet.", amount.StringFixed(2))
	if note = strings.TrimSpace(note); note != "" {
		message += " " + note
	}
	a.notify(ctx, notice{
		Type:    domain.NotifWalletCredited,
		Title:   "Wallet credited",
		Message: message,
		Link:    "/wallet",
		Data:    map[string]string{"amount": amount.StringFixed(2)},
	}, user.ID)
	return user, nil
}
