package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row is no longer in the state an update expects.
	ErrConflict = errors.New("state conflict")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInsufficientStock is returned when a physical item cannot be reserved.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientFunds is returned when a wallet debit would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Store defines persistence operations for the storefront, the exchange,
// wallets, notifications and audiobooks.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	ListAdmins() ([]domain.User, error)
	UserCount() (int, error)
	CreditWallet(userID string, amount decimal.Decimal) (domain.User, error)

	// catalog
	SaveProduct(domain.Product) error
	GetProduct(id string) (domain.Product, bool, error)
	ListProducts(ProductFilter) ([]domain.Product, error)

	// cart
	SaveCartItem(domain.CartItem) error
	DeleteCartItem(userID, productID string) error
	ListCartItems(userID string) ([]domain.CartItem, error)

	// orders
	PlaceOrder(PlaceOrderInput) error
	GetOrder(id string) (domain.Order, bool, error)
	ListOrdersByUser(userID string) ([]domain.Order, error)
	ListOrders(status domain.OrderStatus) ([]domain.Order, error)
	UpdateOrderStatus(UpdateOrderStatusInput) (domain.Order, error)
	ListPurchasedEbooks(userID string) ([]domain.Product, error)

	// exchange
	SaveExchangeBook(domain.ExchangeBook) error
	GetExchangeBook(id string) (domain.ExchangeBook, bool, error)
	ListExchangeBooks(ExchangeBookFilter) ([]domain.ExchangeBook, error)
	DecideDeposit(id string, status domain.ExchangeBookStatus, at time.Time) (domain.ExchangeBook, error)
	CreateExchangeTransaction(domain.ExchangeTransaction) error
	GetExchangeTransaction(id string) (domain.ExchangeTransaction, bool, error)
	ListExchangeTransactions(ExchangeTransactionFilter) ([]domain.ExchangeTransaction, error)
	ApproveExchange(ApproveExchangeInput) (ApproveExchangeResult, error)
	RejectExchange(id string, at time.Time) (domain.ExchangeTransaction, error)
	ReturnExchange(id string, at time.Time) (domain.ExchangeTransaction, error)
	MarkOverdueNotified(id string, at time.Time) error

	// transfers
	CreateTransfer(domain.MoneyTransfer) error
	GetTransfer(id string) (domain.MoneyTransfer, bool, error)
	ListTransfers(TransferFilter) ([]domain.MoneyTransfer, error)
	CompleteTransfer(id string, at time.Time) (domain.MoneyTransfer, error)
	DeclineTransfer(id string, at time.Time) (domain.MoneyTransfer, error)

	// notifications
	CreateNotifications([]domain.Notification) error
	ListNotifications(userID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	CountUnreadNotifications(userID string) (int, error)
	MarkNotificationRead(userID, id string) (bool, error)
	MarkAllNotificationsRead(userID string) (int, error)

	// audiobooks
	SaveAudiobook(domain.Audiobook) error
	GetAudiobook(id string) (domain.Audiobook, bool, error)
	ListAudiobooksByOwner(ownerID string) ([]domain.Audiobook, error)
	UpdateAudiobook(id string, patch AudiobookPatch) error
	DeleteAudiobook(id string) error
}

// ProductFilter narrows catalog listings. Zero values mean "any".
type ProductFilter struct {
	Kind            domain.ProductKind
	Category        string
	Query           string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// PlaceOrderInput carries everything written by a checkout in one transaction.
// Physical item stock is decremented, WalletDebit (if positive) is taken from
// the buyer and the buyer's cart is emptied.
type PlaceOrderInput struct {
	Order       domain.Order
	Transaction domain.Transaction
	WalletDebit decimal.Decimal
}

// UpdateOrderStatusInput moves an order from From to To. The side effects are
// decided by the caller and applied atomically with the status change.
type UpdateOrderStatusInput struct {
	OrderID         string
	From            domain.OrderStatus
	To              domain.OrderStatus
	Restock         bool
	Refund          decimal.Decimal
	CompletePayment bool
	At              time.Time
}

// ExchangeBookFilter narrows exchange book listings.
type ExchangeBookFilter struct {
	Status      domain.ExchangeBookStatus
	DepositorID string
	Query       string
}

// ExchangeTransactionFilter narrows exchange transaction listings.
type ExchangeTransactionFilter struct {
	RequesterID string
	BookID      string
	Status      domain.ExchangeStatus
	Type        domain.ExchangeType
	// DueBefore selects active loans whose due date is before the instant.
	DueBefore *time.Time
	// OverdueUnnotified restricts DueBefore results to loans without an overdue notice.
	OverdueUnnotified bool
}

// ApproveExchangeInput activates a pending exchange transaction.
// BookStatus is on_loan for loans and sold for purchases. When Charge is
// positive it moves from BuyerID to SellerID in the same transaction.
type ApproveExchangeInput struct {
	TransactionID string
	At            time.Time
	DueDate       *time.Time
	BookStatus    domain.ExchangeBookStatus
	Charge        decimal.Decimal
	BuyerID       string
	SellerID      string
}

// ApproveExchangeResult holds rows changed by ApproveExchange.
type ApproveExchangeResult struct {
	Transaction  domain.ExchangeTransaction
	Book         domain.ExchangeBook
	AutoRejected []domain.ExchangeTransaction
}

// TransferFilter narrows money transfer listings.
type TransferFilter struct {
	// UserID matches transfers where the user is either sender or recipient.
	UserID string
	Status domain.TransferStatus
	Limit  int
}

// AudiobookPatch updates audiobook processing fields. Nil fields are untouched.
type AudiobookPatch struct {
	Status       *domain.AudiobookStatus
	ErrorMessage *string
	AudioKey     *string
	Segments     *int
}
