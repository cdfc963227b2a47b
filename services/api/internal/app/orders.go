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

// Checkout turns the user's cart into an order in one store transaction:
// stock is reserved, the wallet is debited when paying by wallet and the cart
// is emptied. Notifications and the confirmation email follow and never undo
// the order.
func (a *App) Checkout(ctx context.Context, user domain.User, method domain.PaymentMethod, shippingAddress string) (domain.Order, error) {
	if !method.Valid() {
		return domain.Order{}, ErrInvalidPayment
	}
	lines, err := a.store.ListCartItems(user.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("list cart: %w", err)
	}
	if len(lines) == 0 {
		return domain.Order{}, ErrEmptyCart
	}
	now := a.now()
	order := domain.Order{
		ID:            util.NewID(),
		UserID:        user.ID,
		PaymentMethod: method,
		Total:         decimal.Zero,
		Items:         make([]domain.OrderItem, 0, len(lines)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, line := range lines {
		p, ok, err := a.store.GetProduct(line.ProductID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("fetch product: %w", err)
		}
		if !ok || !p.Active {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrProductUnavailable, line.ProductID)
		}
		qty := line.Quantity
		if p.Kind == domain.KindEbook {
			qty = 1
		}
		item := domain.OrderItem{
			ID:        util.NewID(),
			OrderID:   order.ID,
			ProductID: p.ID,
			Kind:      p.Kind,
			Title:     p.Title,
			UnitPrice: p.Price,
			Quantity:  qty,
		}
		order.Items = append(order.Items, item)
		order.Total = order.Total.Add(item.LineTotal())
	}
	physical := order.HasPhysicalItems()
	if physical {
		address := strings.TrimSpace(shippingAddress)
		if address == "" {
			address = strings.TrimSpace(user.ShippingAddress)
		}
		if address == "" {
			return domain.Order{}, ErrShippingRequired
		}
		order.ShippingAddress = address
	} else if method != domain.PaymentWallet {
		return domain.Order{}, ErrWalletRequired
	}

	payment := domain.Transaction{
		ID:        util.NewID(),
		OrderID:   order.ID,
		UserID:    user.ID,
		Amount:    order.Total,
		Method:    method,
		CreatedAt: now,
		UpdatedAt: now,
	}
	debit := decimal.Zero
	switch {
	case method == domain.PaymentWallet && !physical:
		order.Status = domain.OrderDelivered
		payment.Status = domain.TransactionCompleted
		debit = order.Total
	case method == domain.PaymentWallet:
		order.Status = domain.OrderConfirmed
		payment.Status = domain.TransactionCompleted
		debit = order.Total
	default:
		order.Status = domain.OrderPending
		payment.Status = domain.TransactionPending
	}
	if err := a.store.PlaceOrder(store.PlaceOrderInput{
		Order:       order,
		Transaction: payment,
		WalletDebit: debit,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("place order: %w", err)
	}
	order.Transaction = &payment
	a.metrics.RecordOrderPlaced(string(method))
	util.LoggerFromContext(ctx).Info("order placed",
		"order_id", order.ID, "total", order.Total.StringFixed(2), "payment_method", method, "status", order.Status)

	short := shortID(order.ID)
	a.notify(ctx, notice{
		Type:    domain.NotifOrderPlaced,
		Title:   "Order placed",
		Message: fmt.Sprintf("Your order %s for %s was placed.", short, order.Total.StringFixed(2)),
		Link:    "/orders/" + order.ID,
		Data:    map[string]string{"orderId": order.ID, "status": string(order.Status)},
	}, user.ID)
	a.notifyAdmins(ctx, notice{
		Type:    domain.NotifOrderPlaced,
		Title:   "New order",
		Message: fmt.Sprintf("%s placed order %s (%s).", displayName(user), short, order.Total.StringFixed(2)),
		Link:    "/admin/orders/" + order.ID,
		Data:    map[string]string{"orderId": order.ID, "userId": user.ID},
	}, user.ID)
	a.sendOrderConfirmation(ctx, user, order)
	return order, nil
}

func (a *App) sendOrderConfirmation(ctx context.Context, user domain.User, order domain.Order) {
	if a.mailer == nil {
		return
	}
	lines := make([]email.OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, email.OrderLine{Title: item.Title, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	err := a.mailer.SendOrderConfirmation(ctx, email.OrderConfirmation{
		To:              user.Email,
		CustomerName:    displayName(user),
		OrderID:         order.ID,
		Items:           lines,
		Total:           order.Total,
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: order.ShippingAddress,
		PlacedAt:        order.CreatedAt,
	})
	if err != nil {
		util.LoggerFromContext(ctx).Error("order confirmation email not queued", "order_id", order.ID, "err", err)
	}
}

// ListOrders returns the user's own orders, newest first.
func (a *App) ListOrders(user domain.User) ([]domain.Order, error) {
	return a.store.ListOrdersByUser(user.ID)
}

// GetOrder returns an order to its owner or an admin.
func (a *App) GetOrder(user domain.User, id string) (domain.Order, error) {
	order, ok, err := a.store.GetOrder(id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("fetch order: %w", err)
	}
	if !ok || (order.UserID != user.ID && !user.IsAdmin()) {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListAllOrders returns every order, optionally filtered by status.
func (a *App) ListAllOrders(status domain.OrderStatus) ([]domain.Order, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidOrderStatus
	}
	return a.store.ListOrders(status)
}

// UpdateOrderStatus moves an order along the fulfilment table. Cancelling
// restocks physical items and refunds completed wallet payments; delivering
// settles a pending cash-on-delivery payment.
func (a *App) UpdateOrderStatus(ctx context.Context, id string, to domain.OrderStatus) (domain.Order, error) {
	if !to.Valid() {
		return domain.Order{}, ErrInvalidOrderStatus
	}
	order, ok, err := a.store.GetOrder(id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("fetch order: %w", err)
	}
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if !order.Status.CanTransition(to) {
		return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, to)
	}
	in := store.UpdateOrderStatusInput{
		OrderID: order.ID,
		From:    order.Status,
		To:      to,
		At:      a.now(),
	}
	payment := order.Transaction
	switch to {
	case domain.OrderCancelled:
		in.Restock = true
		if payment != nil && payment.Method == domain.PaymentWallet && payment.Status == domain.TransactionCompleted {
			in.Refund = payment.Amount
		}
	case domain.OrderDelivered:
		in.CompletePayment = payment != nil && payment.Status == domain.TransactionPending
	}
	updated, err := a.store.UpdateOrderStatus(in)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Order{}, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}
	a.metrics.RecordOrderStatus(string(to))
	util.LoggerFromContext(ctx).Info("order status changed",
		"order_id", updated.ID, "from", order.Status, "to", to, "refund", in.Refund.StringFixed(2))

	message := fmt.Sprintf("Your order %s is now %s.", shortID(updated.ID), to)
	if in.Refund.IsPositive() {
		message += fmt.Sprintf(" %s was refunded to your wallet.", in.Refund.StringFixed(2))
	}
	a.notify(ctx, notice{
		Type:    domain.NotifOrderStatus,
		Title:   "Order " + string(to),
		Message: message,
		Link:    "/orders/" + updated.ID,
		Data:    map[string]string{"orderId": updated.ID, "status": string(to)},
	}, updated.UserID)
	return updated, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func displayName(u domain.User) string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return u.Email
}
