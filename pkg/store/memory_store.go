package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
)

// MemoryStore keeps everything in-process. It honours the same conditional
// update rules as GormStore and backs tests and local runs without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	seq           int64
	users         map[string]domain.User
	email         map[string]string // email -> user ID
	products      map[string]domain.Product
	cart          map[string][]domain.CartItem // user ID -> lines
	orders        map[string]domain.Order
	exchangeBooks map[string]domain.ExchangeBook
	exchangeTxs   map[string]domain.ExchangeTransaction
	transfers     map[string]domain.MoneyTransfer
	notifications []domain.Notification
	audiobooks    map[string]domain.Audiobook
	order         map[string]int64 // record ID -> insertion sequence
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		products:      make(map[string]domain.Product),
		cart:          make(map[string][]domain.CartItem),
		orders:        make(map[string]domain.Order),
		exchangeBooks: make(map[string]domain.ExchangeBook),
		exchangeTxs:   make(map[string]domain.ExchangeTransaction),
		transfers:     make(map[string]domain.MoneyTransfer),
		audiobooks:    make(map[string]domain.Audiobook),
		order:         make(map[string]int64),
	}
}

func (m *MemoryStore) track(id string) {
	if _, ok := m.order[id]; !ok {
		m.seq++
		m.order[id] = m.seq
	}
}

// newestFirst orders by created time, then by insertion for ties.
func (m *MemoryStore) newestFirst(ids []string, created func(string) time.Time) {
	sort.SliceStable(ids, func(i, j int) bool {
		ci, cj := created(ids[i]), created(ids[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return m.order[ids[i]] > m.order[ids[j]]
	})
}

// SaveUser registers or updates a user. Balances move only through wallet operations.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ownerID, ok := m.email[u.Email]; ok && ownerID != u.ID {
		return fmt.Errorf("email %s: %w", u.Email, ErrDuplicate)
	}
	if existing, ok := m.users[u.ID]; ok {
		u.WalletBalance = existing.WalletBalance
		if existing.Email != u.Email {
			delete(m.email, existing.Email)
		}
	}
	m.track(u.ID)
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users in registration order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	return m.listUsers(func(domain.User) bool { return true }), nil
}

// ListAdmins returns active admins.
func (m *MemoryStore) ListAdmins() ([]domain.User, error) {
	return m.listUsers(func(u domain.User) bool {
		return u.Role == domain.RoleAdmin && u.Status == domain.StatusActive
	}), nil
}

func (m *MemoryStore) listUsers(keep func(domain.User) bool) []domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if keep(u) {
			res = append(res, u)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return m.order[res[i].ID] < m.order[res[j].ID] })
	return res
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// CreditWallet adds amount to a user's balance.
func (m *MemoryStore) CreditWallet(userID string, amount decimal.Decimal) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.adjustBalance(userID, amount); err != nil {
		return domain.User{}, err
	}
	return m.users[userID], nil
}

func (m *MemoryStore) adjustBalance(userID string, delta decimal.Decimal) error {
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	next := u.WalletBalance.Add(delta)
	if next.IsNegative() {
		return ErrInsufficientFunds
	}
	u.WalletBalance = next
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

// SaveProduct stores or updates a catalog product.
func (m *MemoryStore) SaveProduct(p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(p.ID)
	m.products[p.ID] = p
	return nil
}

// GetProduct retrieves a product.
func (m *MemoryStore) GetProduct(id string) (domain.Product, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	return p, ok, nil
}

// ListProducts returns products newest first.
func (m *MemoryStore) ListProducts(filter ProductFilter) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	ids := make([]string, 0, len(m.products))
	for id, p := range m.products {
		if !filter.IncludeInactive && !p.Active {
			continue
		}
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if query != "" && !containsFold(p.Title, query) && !containsFold(p.Author, query) {
			continue
		}
		ids = append(ids, id)
	}
	m.newestFirst(ids, func(id string) time.Time { return m.products[id].CreatedAt })
	ids = page(ids, filter.Offset, filter.Limit)
	res := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.products[id])
	}
	return res, nil
}

func containsFold(s, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(s), lowerQuery)
}

func page(ids []string, offset, limit int) []string {
	if offset > 0 {
		if offset >= len(ids) {
			return nil
		}
		ids = ids[offset:]
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// SaveCartItem upserts the quantity of one cart line.
func (m *MemoryStore) SaveCartItem(item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.cart[item.UserID]
	for i := range lines {
		if lines[i].ProductID == item.ProductID {
			lines[i].Quantity = item.Quantity
			lines[i].UpdatedAt = item.UpdatedAt
			return nil
		}
	}
	m.cart[item.UserID] = append(lines, item)
	return nil
}

// DeleteCartItem removes one cart line.
func (m *MemoryStore) DeleteCartItem(userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.cart[userID]
	filtered := lines[:0]
	for _, line := range lines {
		if line.ProductID != productID {
			filtered = append(filtered, line)
		}
	}
	m.cart[userID] = filtered
	return nil
}

// ListCartItems returns a user's cart in insertion order.
func (m *MemoryStore) ListCartItems(userID string) ([]domain.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.CartItem(nil), m.cart[userID]...), nil
}

// PlaceOrder writes a checkout atomically.
func (m *MemoryStore) PlaceOrder(in PlaceOrderInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range in.Order.Items {
		if item.Kind != domain.KindPhysical {
			continue
		}
		p, ok := m.products[item.ProductID]
		if !ok || !p.Active || p.Stock < item.Quantity {
			return fmt.Errorf("product %s: %w", item.ProductID, ErrInsufficientStock)
		}
	}
	if in.WalletDebit.IsPositive() {
		u, ok := m.users[in.Order.UserID]
		if !ok {
			return fmt.Errorf("user %s: %w", in.Order.UserID, ErrNotFound)
		}
		if u.WalletBalance.LessThan(in.WalletDebit) {
			return ErrInsufficientFunds
		}
	}
	if _, exists := m.orders[in.Order.ID]; exists {
		return fmt.Errorf("order %s: %w", in.Order.ID, ErrDuplicate)
	}
	for _, item := range in.Order.Items {
		if item.Kind != domain.KindPhysical {
			continue
		}
		p := m.products[item.ProductID]
		p.Stock -= item.Quantity
		p.UpdatedAt = in.Order.CreatedAt
		m.products[p.ID] = p
	}
	if in.WalletDebit.IsPositive() {
		if err := m.adjustBalance(in.Order.UserID, in.WalletDebit.Neg()); err != nil {
			return err
		}
	}
	order := in.Order
	order.Items = append([]domain.OrderItem(nil), in.Order.Items...)
	payment := in.Transaction
	order.Transaction = &payment
	m.track(order.ID)
	m.orders[order.ID] = order
	delete(m.cart, in.Order.UserID)
	return nil
}

// GetOrder returns an order with its items and payment record.
func (m *MemoryStore) GetOrder(id string) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, false, nil
	}
	return copyOrder(o), true, nil
}

// ListOrdersByUser returns a buyer's orders newest first.
func (m *MemoryStore) ListOrdersByUser(userID string) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return o.UserID == userID }), nil
}

// ListOrders returns all orders, optionally filtered by status.
func (m *MemoryStore) ListOrders(status domain.OrderStatus) ([]domain.Order, error) {
	return m.listOrders(func(o domain.Order) bool { return status == "" || o.Status == status }), nil
}

func (m *MemoryStore) listOrders(keep func(domain.Order) bool) []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.orders))
	for id, o := range m.orders {
		if keep(o) {
			ids = append(ids, id)
		}
	}
	m.newestFirst(ids, func(id string) time.Time { return m.orders[id].CreatedAt })
	res := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		res = append(res, copyOrder(m.orders[id]))
	}
	return res
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem{}, o.Items...)
	if o.Transaction != nil {
		payment := *o.Transaction
		o.Transaction = &payment
	}
	return o
}

// UpdateOrderStatus moves an order between statuses with its side effects.
func (m *MemoryStore) UpdateOrderStatus(in UpdateOrderStatusInput) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	order, ok := m.orders[in.OrderID]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	if order.Status != in.From {
		return domain.Order{}, ErrConflict
	}
	if in.Refund.IsPositive() {
		if err := m.adjustBalance(order.UserID, in.Refund); err != nil {
			return domain.Order{}, err
		}
	}
	if in.Restock {
		for _, item := range order.Items {
			if item.Kind != domain.KindPhysical {
				continue
			}
			if p, ok := m.products[item.ProductID]; ok {
				p.Stock += item.Quantity
				p.UpdatedAt = at
				m.products[p.ID] = p
			}
		}
	}
	order = copyOrder(order)
	order.Status = in.To
	order.UpdatedAt = at
	if in.CompletePayment && order.Transaction != nil {
		order.Transaction.Status = domain.TransactionCompleted
		order.Transaction.UpdatedAt = at
	}
	m.orders[order.ID] = order
	return copyOrder(order), nil
}

// ListPurchasedEbooks returns ebooks appearing in the user's non-cancelled orders.
func (m *MemoryStore) ListPurchasedEbooks(userID string) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	res := make([]domain.Product, 0)
	for _, o := range m.orders {
		if o.UserID != userID || o.Status == domain.OrderCancelled {
			continue
		}
		for _, item := range o.Items {
			p, ok := m.products[item.ProductID]
			if !ok || p.Kind != domain.KindEbook || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Title < res[j].Title })
	return res, nil
}

// SaveExchangeBook stores or updates a deposited book.
func (m *MemoryStore) SaveExchangeBook(b domain.ExchangeBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(b.ID)
	m.exchangeBooks[b.ID] = b
	return nil
}

// GetExchangeBook retrieves a deposited book.
func (m *MemoryStore) GetExchangeBook(id string) (domain.ExchangeBook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.exchangeBooks[id]
	return b, ok, nil
}

// ListExchangeBooks returns deposited books newest first.
func (m *MemoryStore) ListExchangeBooks(filter ExchangeBookFilter) ([]domain.ExchangeBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	ids := make([]string, 0, len(m.exchangeBooks))
	for id, b := range m.exchangeBooks {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.DepositorID != "" && b.DepositorID != filter.DepositorID {
			continue
		}
		if query != "" && !containsFold(b.Title, query) && !containsFold(b.Author, query) {
			continue
		}
		ids = append(ids, id)
	}
	m.newestFirst(ids, func(id string) time.Time { return m.exchangeBooks[id].CreatedAt })
	res := make([]domain.ExchangeBook, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.exchangeBooks[id])
	}
	return res, nil
}

// DecideDeposit approves or rejects a book still awaiting review.
func (m *MemoryStore) DecideDeposit(id string, status domain.ExchangeBookStatus, at time.Time) (domain.ExchangeBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.exchangeBooks[id]
	if !ok {
		return domain.ExchangeBook{}, ErrNotFound
	}
	if b.Status != domain.BookPendingApproval {
		return domain.ExchangeBook{}, ErrConflict
	}
	b.Status = status
	b.UpdatedAt = at
	if status == domain.BookAvailable {
		approvedAt := at
		b.ApprovedAt = &approvedAt
	}
	m.exchangeBooks[id] = b
	return b, nil
}

// CreateExchangeTransaction inserts a new request. A requester holds at most
// one pending request per book.
func (m *MemoryStore) CreateExchangeTransaction(t domain.ExchangeTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == domain.ExchangePendingApproval {
		for _, existing := range m.exchangeTxs {
			if existing.BookID == t.BookID && existing.RequesterID == t.RequesterID &&
				existing.Status == domain.ExchangePendingApproval {
				return fmt.Errorf("pending request for book %s: %w", t.BookID, ErrDuplicate)
			}
		}
	}
	m.track(t.ID)
	m.exchangeTxs[t.ID] = t
	return nil
}

// GetExchangeTransaction retrieves a request.
func (m *MemoryStore) GetExchangeTransaction(id string) (domain.ExchangeTransaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.exchangeTxs[id]
	return t, ok, nil
}

// ListExchangeTransactions returns requests newest first.
func (m *MemoryStore) ListExchangeTransactions(filter ExchangeTransactionFilter) ([]domain.ExchangeTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.exchangeTxs))
	for id, t := range m.exchangeTxs {
		if filter.RequesterID != "" && t.RequesterID != filter.RequesterID {
			continue
		}
		if filter.BookID != "" && t.BookID != filter.BookID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.DueBefore != nil {
			if t.Status != domain.ExchangeActive || t.DueDate == nil || !t.DueDate.Before(*filter.DueBefore) {
				continue
			}
			if filter.OverdueUnnotified && t.OverdueNotifiedAt != nil {
				continue
			}
		}
		ids = append(ids, id)
	}
	m.newestFirst(ids, func(id string) time.Time { return m.exchangeTxs[id].CreatedAt })
	res := make([]domain.ExchangeTransaction, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.exchangeTxs[id])
	}
	return res, nil
}

// ApproveExchange activates a request and auto-rejects competing requests.
func (m *MemoryStore) ApproveExchange(in ApproveExchangeInput) (ApproveExchangeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.exchangeTxs[in.TransactionID]
	if !ok {
		return ApproveExchangeResult{}, ErrNotFound
	}
	if t.Status != domain.ExchangePendingApproval {
		return ApproveExchangeResult{}, ErrConflict
	}
	b, ok := m.exchangeBooks[t.BookID]
	if !ok {
		return ApproveExchangeResult{}, ErrNotFound
	}
	if b.Status != domain.BookAvailable {
		return ApproveExchangeResult{}, ErrConflict
	}
	if in.Charge.IsPositive() {
		buyer, ok := m.users[in.BuyerID]
		if !ok {
			return ApproveExchangeResult{}, fmt.Errorf("user %s: %w", in.BuyerID, ErrNotFound)
		}
		if _, ok := m.users[in.SellerID]; !ok {
			return ApproveExchangeResult{}, fmt.Errorf("user %s: %w", in.SellerID, ErrNotFound)
		}
		if buyer.WalletBalance.LessThan(in.Charge) {
			return ApproveExchangeResult{}, ErrInsufficientFunds
		}
		if err := m.adjustBalance(in.BuyerID, in.Charge.Neg()); err != nil {
			return ApproveExchangeResult{}, err
		}
		if err := m.adjustBalance(in.SellerID, in.Charge); err != nil {
			return ApproveExchangeResult{}, err
		}
	}
	approvedAt := in.At
	t.Status = domain.ExchangeActive
	t.ApprovedAt = &approvedAt
	t.DueDate = in.DueDate
	t.UpdatedAt = in.At
	m.exchangeTxs[t.ID] = t
	b.Status = in.BookStatus
	b.UpdatedAt = in.At
	m.exchangeBooks[b.ID] = b

	result := ApproveExchangeResult{Transaction: t, Book: b, AutoRejected: []domain.ExchangeTransaction{}}
	for id, other := range m.exchangeTxs {
		if id == t.ID || other.BookID != b.ID || other.Status != domain.ExchangePendingApproval {
			continue
		}
		other.Status = domain.ExchangeRejected
		other.UpdatedAt = in.At
		m.exchangeTxs[id] = other
		result.AutoRejected = append(result.AutoRejected, other)
	}
	sort.SliceStable(result.AutoRejected, func(i, j int) bool {
		return m.order[result.AutoRejected[i].ID] < m.order[result.AutoRejected[j].ID]
	})
	return result, nil
}

// RejectExchange declines a pending request.
func (m *MemoryStore) RejectExchange(id string, at time.Time) (domain.ExchangeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.exchangeTxs[id]
	if !ok {
		return domain.ExchangeTransaction{}, ErrNotFound
	}
	if t.Status != domain.ExchangePendingApproval {
		return domain.ExchangeTransaction{}, ErrConflict
	}
	t.Status = domain.ExchangeRejected
	t.UpdatedAt = at
	m.exchangeTxs[id] = t
	return t, nil
}

// ReturnExchange closes an active loan and puts the book back on the shelf.
func (m *MemoryStore) ReturnExchange(id string, at time.Time) (domain.ExchangeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.exchangeTxs[id]
	if !ok {
		return domain.ExchangeTransaction{}, ErrNotFound
	}
	if t.Status != domain.ExchangeActive {
		return domain.ExchangeTransaction{}, ErrConflict
	}
	returnedAt := at
	t.Status = domain.ExchangeReturned
	t.ReturnedAt = &returnedAt
	t.UpdatedAt = at
	m.exchangeTxs[id] = t
	if b, ok := m.exchangeBooks[t.BookID]; ok && b.Status == domain.BookOnLoan {
		b.Status = domain.BookAvailable
		b.UpdatedAt = at
		m.exchangeBooks[b.ID] = b
	}
	return t, nil
}

// MarkOverdueNotified stamps the overdue notice time on a loan.
func (m *MemoryStore) MarkOverdueNotified(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.exchangeTxs[id]
	if !ok || t.OverdueNotifiedAt != nil {
		return ErrConflict
	}
	notifiedAt := at
	t.OverdueNotifiedAt = &notifiedAt
	t.UpdatedAt = at
	m.exchangeTxs[id] = t
	return nil
}

// CreateTransfer inserts a pending transfer request.
func (m *MemoryStore) CreateTransfer(t domain.MoneyTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transfers[t.ID]; exists {
		return fmt.Errorf("transfer %s: %w", t.ID, ErrDuplicate)
	}
	m.track(t.ID)
	m.transfers[t.ID] = t
	return nil
}

// GetTransfer retrieves a transfer.
func (m *MemoryStore) GetTransfer(id string) (domain.MoneyTransfer, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[id]
	return t, ok, nil
}

// ListTransfers returns transfers newest first.
func (m *MemoryStore) ListTransfers(filter TransferFilter) ([]domain.MoneyTransfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.transfers))
	for id, t := range m.transfers {
		if filter.UserID != "" && t.SenderID != filter.UserID && t.RecipientID != filter.UserID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		ids = append(ids, id)
	}
	m.newestFirst(ids, func(id string) time.Time { return m.transfers[id].CreatedAt })
	ids = page(ids, 0, filter.Limit)
	res := make([]domain.MoneyTransfer, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.transfers[id])
	}
	return res, nil
}

// CompleteTransfer debits the sender and credits the recipient.
func (m *MemoryStore) CompleteTransfer(id string, at time.Time) (domain.MoneyTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return domain.MoneyTransfer{}, ErrNotFound
	}
	if t.Status != domain.TransferPending {
		return domain.MoneyTransfer{}, ErrConflict
	}
	sender, ok := m.users[t.SenderID]
	if !ok {
		return domain.MoneyTransfer{}, fmt.Errorf("user %s: %w", t.SenderID, ErrNotFound)
	}
	if _, ok := m.users[t.RecipientID]; !ok {
		return domain.MoneyTransfer{}, fmt.Errorf("user %s: %w", t.RecipientID, ErrNotFound)
	}
	if sender.WalletBalance.LessThan(t.Amount) {
		return domain.MoneyTransfer{}, ErrInsufficientFunds
	}
	if err := m.adjustBalance(t.SenderID, t.Amount.Neg()); err != nil {
		return domain.MoneyTransfer{}, err
	}
	if err := m.adjustBalance(t.RecipientID, t.Amount); err != nil {
		return domain.MoneyTransfer{}, err
	}
	decidedAt := at
	t.Status = domain.TransferCompleted
	t.DecidedAt = &decidedAt
	t.UpdatedAt = at
	m.transfers[id] = t
	return t, nil
}

// DeclineTransfer closes a pending transfer without moving money.
func (m *MemoryStore) DeclineTransfer(id string, at time.Time) (domain.MoneyTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return domain.MoneyTransfer{}, ErrNotFound
	}
	if t.Status != domain.TransferPending {
		return domain.MoneyTransfer{}, ErrConflict
	}
	decidedAt := at
	t.Status = domain.TransferDeclined
	t.DecidedAt = &decidedAt
	t.UpdatedAt = at
	m.transfers[id] = t
	return t, nil
}

// CreateNotifications inserts a fan-out batch.
func (m *MemoryStore) CreateNotifications(items []domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range items {
		m.track(n.ID)
		m.notifications = append(m.notifications, n)
	}
	return nil
}

// ListNotifications returns a user's notifications newest first.
func (m *MemoryStore) ListNotifications(userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	res := make([]domain.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		res = append(res, n)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// CountUnreadNotifications returns the unread badge count.
func (m *MemoryStore) CountUnreadNotifications(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkNotificationRead flags one of the user's notifications as read.
func (m *MemoryStore) MarkNotificationRead(userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

// MarkAllNotificationsRead flags every unread notification of the user.
func (m *MemoryStore) MarkAllNotificationsRead(userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := range m.notifications {
		if m.notifications[i].UserID == userID && !m.notifications[i].Read {
			m.notifications[i].Read = true
			count++
		}
	}
	return count, nil
}

// SaveAudiobook stores an audiobook record.
func (m *MemoryStore) SaveAudiobook(a domain.Audiobook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(a.ID)
	m.audiobooks[a.ID] = a
	return nil
}

// GetAudiobook retrieves an audiobook.
func (m *MemoryStore) GetAudiobook(id string) (domain.Audiobook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.audiobooks[id]
	return a, ok, nil
}

// ListAudiobooksByOwner returns an owner's audiobooks newest first.
func (m *MemoryStore) ListAudiobooksByOwner(ownerID string) ([]domain.Audiobook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for id, a := range m.audiobooks {
		if a.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	m.newestFirst(ids, func(id string) time.Time { return m.audiobooks[id].CreatedAt })
	res := make([]domain.Audiobook, 0, len(ids))
	for _, id := range ids {
		res = append(res, m.audiobooks[id])
	}
	return res, nil
}

// UpdateAudiobook applies processing updates.
func (m *MemoryStore) UpdateAudiobook(id string, patch AudiobookPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audiobooks[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		a.ErrorMessage = *patch.ErrorMessage
	}
	if patch.AudioKey != nil {
		a.AudioKey = *patch.AudioKey
	}
	if patch.Segments != nil {
		a.Segments = *patch.Segments
	}
	a.UpdatedAt = time.Now().UTC()
	m.audiobooks[id] = a
	return nil
}

// DeleteAudiobook removes an audiobook record.
func (m *MemoryStore) DeleteAudiobook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.audiobooks, id)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
