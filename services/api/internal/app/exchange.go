package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/internal/util"
	"ghazal/pkg/domain"
	"ghazal/pkg/store"
)

// DepositInput describes a book a user offers to the exchange.
type DepositInput struct {
	Title       string
	Author      string
	Condition   domain.BookCondition
	Description string
	Price       decimal.Decimal
}

// DepositBook submits a book for admin approval.
func (a *App) DepositBook(ctx context.Context, user domain.User, in DepositInput) (domain.ExchangeBook, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.ExchangeBook{}, ErrTitleRequired
	}
	author := strings.TrimSpace(in.Author)
	if author == "" {
		return domain.ExchangeBook{}, ErrAuthorRequired
	}
	if !in.Condition.Valid() {
		return domain.ExchangeBook{}, ErrInvalidCondition
	}
	if !validPrice(in.Price) {
		return domain.ExchangeBook{}, ErrInvalidPrice
	}
	now := a.now()
	book := domain.ExchangeBook{
		ID:          util.NewID(),
		Title:       title,
		Author:      author,
		Condition:   in.Condition,
		Description: strings.TrimSpace(in.Description),
		Status:      domain.BookPendingApproval,
		DepositorID: user.ID,
		Price:       in.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveExchangeBook(book); err != nil {
		return domain.ExchangeBook{}, fmt.Errorf("save exchange book: %w", err)
	}
	a.metrics.RecordExchange("deposit_submitted")
	a.notifyAdmins(ctx, notice{
		Type:    domain.NotifDepositSubmitted,
		Title:   "New book deposit",
		Message: fmt.Sprintf("%s deposited %q by %s.", displayName(user), book.Title, book.Author),
		Link:    "/admin/exchange/books/" + book.ID,
		Data:    map[string]string{"bookId": book.ID},
	}, user.ID)
	return book, nil
}

// ApproveDeposit lists a pending deposit on the exchange.
func (a *App) ApproveDeposit(ctx context.Context, id string) (domain.ExchangeBook, error) {
	book, err := a.decideDeposit(id, domain.BookAvailable)
	if err != nil {
		return domain.ExchangeBook{}, err
	}
	a.metrics.RecordExchange("deposit_approved")
	a.notify(ctx, notice{
		Type:    domain.NotifDepositApproved,
		Title:   "Deposit approved",
		Message: fmt.Sprintf("%q is now available on the exchange.", book.Title),
		Link:    "/exchange/books/" + book.ID,
		Data:    map[string]string{"bookId": book.ID},
	}, book.DepositorID)
	return book, nil
}

// RejectDeposit declines a pending deposit with an optional reason.
func (a *App) RejectDeposit(ctx context.Context, id, reason string) (domain.ExchangeBook, error) {
	book, err := a.decideDeposit(id, domain.BookRejected)
	if err != nil {
		return domain.ExchangeBook{}, err
	}
	a.metrics.RecordExchange("deposit_rejected")
	message := fmt.Sprintf("%q was not accepted.", book.Title)
	if reason = strings.TrimSpace(reason); reason != "" {
		message += " Reason: " + reason
	}
	a.notify(ctx, notice{
		Type:    domain.NotifDepositRejected,
		Title:   "Deposit rejected",
		Message: message,
		Data:    map[string]string{"bookId": book.ID},
	}, book.DepositorID)
	return book, nil
}

func (a *App) decideDeposit(id string, status domain.ExchangeBookStatus) (domain.ExchangeBook, error) {
	book, err := a.store.DecideDeposit(id, status, a.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ExchangeBook{}, ErrBookNotFound
	case errors.Is(err, store.ErrConflict):
		return domain.ExchangeBook{}, ErrDepositNotPending
	case err != nil:
		return domain.ExchangeBook{}, fmt.Errorf("decide deposit: %w", err)
	}
	return book, nil
}

// ListAvailableBooks is the public exchange shelf.
func (a *App) ListAvailableBooks(query string) ([]domain.ExchangeBook, error) {
	return a.store.ListExchangeBooks(store.ExchangeBookFilter{Status: domain.BookAvailable, Query: query})
}

// GetExchangeBook returns an available book to anyone, and any book to its
// depositor or an admin.
func (a *App) GetExchangeBook(viewer domain.User, id string) (domain.ExchangeBook, error) {
	book, ok, err := a.store.GetExchangeBook(id)
	if err != nil {
		return domain.ExchangeBook{}, fmt.Errorf("fetch exchange book: %w", err)
	}
	if !ok {
		return domain.ExchangeBook{}, ErrBookNotFound
	}
	if book.Status != domain.BookAvailable && book.DepositorID != viewer.ID && !viewer.IsAdmin() {
		return domain.ExchangeBook{}, ErrBookNotFound
	}
	return book, nil
}

// MyDeposits lists the user's deposited books in every status.
func (a *App) MyDeposits(user domain.User) ([]domain.ExchangeBook, error) {
	return a.store.ListExchangeBooks(store.ExchangeBookFilter{DepositorID: user.ID})
}

// ListBooks is the admin view of deposits, optionally filtered by status.
func (a *App) ListBooks(status domain.ExchangeBookStatus) ([]domain.ExchangeBook, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, status)
	}
	return a.store.ListExchangeBooks(store.ExchangeBookFilter{Status: status})
}

// RequestBook asks to borrow, swap or purchase an available book.
func (a *App) RequestBook(ctx context.Context, user domain.User, bookID string, kind domain.ExchangeType, note string) (domain.ExchangeTransaction, error) {
	if !kind.Valid() {
		return domain.ExchangeTransaction{}, ErrInvalidExchangeType
	}
	book, ok, err := a.store.GetExchangeBook(bookID)
	if err != nil {
		return domain.ExchangeTransaction{}, fmt.Errorf("fetch exchange book: %w", err)
	}
	if !ok {
		return domain.ExchangeTransaction{}, ErrBookNotFound
	}
	if book.Status != domain.BookAvailable {
		return domain.ExchangeTransaction{}, ErrBookNotAvailable
	}
	if book.DepositorID == user.ID {
		return domain.ExchangeTransaction{}, ErrOwnBook
	}
	if kind == domain.ExchangePurchase && !book.Price.IsPositive() {
		return domain.ExchangeTransaction{}, ErrNotForSale
	}
	now := a.now()
	active, err := a.store.ListExchangeTransactions(store.ExchangeTransactionFilter{
		RequesterID: user.ID,
		Status:      domain.ExchangeActive,
	})
	if err != nil {
		return domain.ExchangeTransaction{}, fmt.Errorf("list loans: %w", err)
	}
	for _, loan := range active {
		if loan.IsOverdue(now) {
			return domain.ExchangeTransaction{}, ErrOverdueLoans
		}
	}
	tx := domain.ExchangeTransaction{
		ID:          util.NewID(),
		BookID:      book.ID,
		RequesterID: user.ID,
		Type:        kind,
		Status:      domain.ExchangePendingApproval,
		Note:        strings.TrimSpace(note),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateExchangeTransaction(tx); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.ExchangeTransaction{}, ErrDuplicateRequest
		}
		return domain.ExchangeTransaction{}, fmt.Errorf("create exchange request: %w", err)
	}
	a.metrics.RecordExchange("request_created")
	n := notice{
		Type:    domain.NotifExchangeRequested,
		Title:   "New " + string(kind) + " request",
		Message: fmt.Sprintf("%s wants to %s %q.", displayName(user), kind, book.Title),
		Link:    "/exchange/requests/" + tx.ID,
		Data:    map[string]string{"bookId": book.ID, "transactionId": tx.ID, "type": string(kind)},
	}
	a.notify(ctx, n, book.DepositorID)
	a.notifyAdmins(ctx, n, book.DepositorID, user.ID)
	return tx, nil
}

// ApproveRequest activates a pending request in one store transaction. Loans
// get a due date and put the book on loan; purchases move the price from the
// requester's wallet to the depositor and mark the book sold. Competing
// pending requests for the book are rejected.
func (a *App) ApproveRequest(ctx context.Context, id string) (domain.ExchangeTransaction, error) {
	tx, ok, err := a.store.GetExchangeTransaction(id)
	if err != nil {
		return domain.ExchangeTransaction{}, fmt.Errorf("fetch exchange request: %w", err)
	}
	if !ok {
		return domain.ExchangeTransaction{}, ErrRequestNotFound
	}
	if tx.Status != domain.ExchangePendingApproval {
		return domain.ExchangeTransaction{}, ErrRequestNotPending
	}
	book, ok, err := a.store.GetExchangeBook(tx.BookID)
	if err != nil {
		return domain.ExchangeTransaction{}, fmt.Errorf("fetch exchange book: %w", err)
	}
	if !ok {
		return domain.ExchangeTransaction{}, ErrBookNotFound
	}
	if book.Status != domain.BookAvailable {
		return domain.ExchangeTransaction{}, ErrBookNotAvailable
	}
	now := a.now()
	in := store.ApproveExchangeInput{TransactionID: tx.ID, At: now}
	if tx.Type.IsLoan() {
		due := now.Add(domain.LoanPeriod)
		in.DueDate = &due
		in.BookStatus = domain.BookOnLoan
	} else {
		in.BookStatus = domain.BookSold
		in.Charge = book.Price
		in.BuyerID = tx.RequesterID
		in.SellerID = book.DepositorID
	}
	res, err := a.store.ApproveExchange(in)
	switch {
	case errors.Is(err, store.ErrConflict):
		return domain.ExchangeTransaction{}, ErrRequestNotPending
	case errors.Is(err, store.ErrNotFound):
		return domain.ExchangeTransaction{}, ErrRequestNotFound
	case err != nil:
		return domain.ExchangeTransaction{}, fmt.Errorf("approve exchange: %w", err)
	}
	a.metrics.RecordExchange("request_approved")
	util.LoggerFromContext(ctx).Info("exchange approved",
		"transaction_id", tx.ID, "book_id", book.ID, "type", tx.Type, "auto_rejected", len(res.AutoRejected))

	approved := notice{
		Type:  domain.NotifExchangeApproved,
		Title: "Request approved",
		Link:  "/exchange/requests/" + tx.ID,
		Data:  map[string]string{"bookId": book.ID, "transactionId": tx.ID, "type": string(tx.Type)},
	}
	if in.DueDate != nil {
		approved.Message = fmt.Sprintf("Your %s of %q is approved. Please return it by %s.",
			tx.Type, book.Title, in.DueDate.Format(time.DateOnly))
	} else {
		approved.Message = fmt.Sprintf("Your purchase of %q is approved. %s was paid from your wallet.",
			book.Title, in.Charge.StringFixed(2))
	}
	a.notify(ctx, approved, tx.RequesterID)

	depositor := approved
	depositor.Title = "Your book was sold"
	if tx.Type.IsLoan() {
		depositor.Title = "Your book was lent"
	}
	depositor.Message = fmt.Sprintf("The %s request for %q was approved.", tx.Type, book.Title)
	if in.Charge.IsPositive() {
		depositor.Message += fmt.Sprintf(" %s was credited to your wallet.", in.Charge.StringFixed(2))
	}
	a.notify(ctx, depositor, book.DepositorID)

	for _, other := range res.AutoRejected {
		a.notify(ctx, notice{
			Type:    domain.NotifExchangeRejected,
			Title:   "Request declined",
			Message: fmt.Sprintf("%q is no longer available.", book.Title),
			Link:    "/exchange/requests/" + other.ID,
			Data:    map[string]string{"bookId": book.ID, "transactionId": other.ID},
		}, other.RequesterID)
	}
	return a.withOverdue(res.Transaction), nil
}

// RejectRequest declines a pending request.
func (a *App) RejectRequest(ctx context.Context, id string) (domain.ExchangeTransaction, error) {
	tx, err := a.store.RejectExchange(id, a.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ExchangeTransaction{}, ErrRequestNotFound
	case errors.Is(err, store.ErrConflict):
		return domain.ExchangeTransaction{}, ErrRequestNotPending
	case err != nil:
		return domain.ExchangeTransaction{}, fmt.Errorf("reject exchange: %w", err)
	}
	a.metrics.RecordExchange("request_rejected")
	a.notify(ctx, notice{
		Type:    domain.NotifExchangeRejected,
		Title:   "Request declined",
		Message: fmt.Sprintf("Your %s request was declined.", tx.Type),
		Link:    "/exchange/requests/" + tx.ID,
		Data:    map[string]string{"bookId": tx.BookID, "transactionId": tx.ID},
	}, tx.RequesterID)
	return tx, nil
}

// ReturnBook closes an active loan. The borrower or an admin may return it.
func (a *App) ReturnBook(ctx context.Context, user domain.User, id string) (domain.ExchangeTransaction, error) {
	tx, ok, err := a.store.GetExchangeTransaction(id)
	if err != nil {
		return domain.ExchangeTransaction{}, fmt.Errorf("fetch exchange request: %w", err)
	}
	if !ok || (tx.RequesterID != user.ID && !user.IsAdmin()) {
		return domain.ExchangeTransaction{}, ErrRequestNotFound
	}
	if !tx.Type.IsLoan() || tx.Status != domain.ExchangeActive {
		return domain.ExchangeTransaction{}, ErrNotActiveLoan
	}
	returned, err := a.store.ReturnExchange(id, a.now())
	switch {
	case errors.Is(err, store.ErrConflict):
		return domain.ExchangeTransaction{}, ErrNotActiveLoan
	case err != nil:
		return domain.ExchangeTransaction{}, fmt.Errorf("return exchange: %w", err)
	}
	a.metrics.RecordExchange("book_returned")
	if book, ok, err := a.store.GetExchangeBook(returned.BookID); err == nil && ok {
		a.notify(ctx, notice{
			Type:    domain.NotifBookReturned,
			Title:   "Book returned",
			Message: fmt.Sprintf("%q was returned and is available again.", book.Title),
			Link:    "/exchange/books/" + book.ID,
			Data:    map[string]string{"bookId": book.ID, "transactionId": returned.ID},
		}, book.DepositorID)
	}
	return returned, nil
}

// MyRequests lists the user's own requests with the overdue flag set.
func (a *App) MyRequests(user domain.User) ([]domain.ExchangeTransaction, error) {
	return a.listTransactions(store.ExchangeTransactionFilter{RequesterID: user.ID})
}

// ListTransactions is the admin view of exchange requests.
func (a *App) ListTransactions(filter store.ExchangeTransactionFilter) ([]domain.ExchangeTransaction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, ErrInvalidExchangeType
	}
	return a.listTransactions(filter)
}

// OverdueLoans returns active loans past their due date.
func (a *App) OverdueLoans() ([]domain.ExchangeTransaction, error) {
	now := a.now()
	return a.listTransactions(store.ExchangeTransactionFilter{DueBefore: &now})
}

func (a *App) listTransactions(filter store.ExchangeTransactionFilter) ([]domain.ExchangeTransaction, error) {
	items, err := a.store.ListExchangeTransactions(filter)
	if err != nil {
		return nil, fmt.Errorf("list exchange requests: %w", err)
	}
	for i := range items {
		items[i] = a.withOverdue(items[i])
	}
	return items, nil
}

func (a *App) withOverdue(tx domain.ExchangeTransaction) domain.ExchangeTransaction {
	tx.Overdue = tx.IsOverdue(a.now())
	return tx
}

// SweepOverdue notifies borrowers and admins once per overdue loan and
// returns how many loans were flagged.
func (a *App) SweepOverdue(ctx context.Context) (int, error) {
	now := a.now()
	loans, err := a.store.ListExchangeTransactions(store.ExchangeTransactionFilter{
		DueBefore:         &now,
		OverdueUnnotified: true,
	})
	if err != nil {
		return 0, fmt.Errorf("list overdue loans: %w", err)
	}
	flagged := 0
	for _, loan := range loans {
		if err := a.store.MarkOverdueNotified(loan.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return flagged, fmt.Errorf("mark overdue: %w", err)
		}
		flagged++
		title := "a borrowed book"
		if book, ok, err := a.store.GetExchangeBook(loan.BookID); err == nil && ok {
			title = fmt.Sprintf("%q", book.Title)
		}
		due := ""
		if loan.DueDate != nil {
			due = loan.DueDate.Format(time.DateOnly)
		}
		n := notice{
			Type:    domain.NotifLoanOverdue,
			Title:   "Loan overdue",
			Message: fmt.Sprintf("The loan of %s was due on %s.", title, due),
			Link:    "/exchange/requests/" + loan.ID,
			Data:    map[string]string{"bookId": loan.BookID, "transactionId": loan.ID, "dueDate": due},
		}
		a.notify(ctx, n, loan.RequesterID)
		a.notifyAdmins(ctx, n, loan.RequesterID)
	}
	if flagged > 0 {
		a.metrics.RecordExchange("loan_overdue")
		util.LoggerFromContext(ctx).Info("overdue sweep", "flagged", flagged)
	}
	return flagged, nil
}
