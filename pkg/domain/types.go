package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

type User struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	PasswordHash    string          `json:"-"`
	FullName        string          `json:"fullName"`
	Phone           string          `json:"phone,omitempty"`
	ShippingAddress string          `json:"shippingAddress,omitempty"`
	Role            UserRole        `json:"role"`
	Status          UserStatus      `json:"status"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type ProductKind string

const (
	KindPhysical ProductKind = "physical"
	KindEbook    ProductKind = "ebook"
)

func (k ProductKind) Valid() bool {
	return k == KindPhysical || k == KindEbook
}

type Product struct {
	ID            string          `json:"id"`
	Kind          ProductKind     `json:"kind"`
	Title         string          `json:"title"`
	Author        string          `json:"author,omitempty"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	CoverKey      string          `json:"-"`
	CoverURL      string          `json:"coverUrl,omitempty"`
	EbookKey      string          `json:"-"`
	EbookFilename string          `json:"ebookFilename,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type CartItem struct {
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentWallet         PaymentMethod = "wallet"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentWallet || m == PaymentCashOnDelivery
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Status          OrderStatus     `json:"status"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	ShippingAddress string          `json:"shippingAddress,omitempty"`
	Items           []OrderItem     `json:"items"`
	Transaction     *Transaction    `json:"transaction,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// HasPhysicalItems reports whether any line needs shipping.
func (o Order) HasPhysicalItems() bool {
	for _, item := range o.Items {
		if item.Kind == KindPhysical {
			return true
		}
	}
	return false
}

type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	Kind      ProductKind     `json:"kind"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// LineTotal is unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
)

// Transaction is the payment record attached to an order.
type Transaction struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"orderId"`
	UserID    string            `json:"userId"`
	Amount    decimal.Decimal   `json:"amount"`
	Method    PaymentMethod     `json:"method"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type BookCondition string

const (
	ConditionNew     BookCondition = "new"
	ConditionLikeNew BookCondition = "like_new"
	ConditionGood    BookCondition = "good"
	ConditionFair    BookCondition = "fair"
	ConditionPoor    BookCondition = "poor"
)

func (c BookCondition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

type ExchangeBookStatus string

const (
	BookPendingApproval ExchangeBookStatus = "pending_approval"
	BookAvailable       ExchangeBookStatus = "available"
	BookRejected        ExchangeBookStatus = "rejected"
	BookSold            ExchangeBookStatus = "sold"
	BookOnLoan          ExchangeBookStatus = "on_loan"
)

func (s ExchangeBookStatus) Valid() bool {
	switch s {
	case BookPendingApproval, BookAvailable, BookRejected, BookSold, BookOnLoan:
		return true
	}
	return false
}

type ExchangeBook struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Author      string             `json:"author"`
	Condition   BookCondition      `json:"condition"`
	Description string             `json:"description,omitempty"`
	Status      ExchangeBookStatus `json:"status"`
	DepositorID string             `json:"depositorId"`
	Price       decimal.Decimal    `json:"price"`
	ApprovedAt  *time.Time         `json:"approvedAt,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type ExchangeType string

const (
	ExchangeBorrow   ExchangeType = "borrow"
	ExchangePurchase ExchangeType = "purchase"
	ExchangeSwap     ExchangeType = "exchange"
)

func (t ExchangeType) Valid() bool {
	return t == ExchangeBorrow || t == ExchangePurchase || t == ExchangeSwap
}

// IsLoan reports whether the book comes back after an active period.
func (t ExchangeType) IsLoan() bool {
	return t == ExchangeBorrow || t == ExchangeSwap
}

type ExchangeStatus string

const (
	ExchangePendingApproval ExchangeStatus = "pending_approval"
	ExchangeActive          ExchangeStatus = "active"
	ExchangeRejected        ExchangeStatus = "rejected"
	ExchangeReturned        ExchangeStatus = "returned"
)

func (s ExchangeStatus) Valid() bool {
	switch s {
	case ExchangePendingApproval, ExchangeActive, ExchangeRejected, ExchangeReturned:
		return true
	}
	return false
}

// LoanPeriod is how long an approved loan runs before it is overdue.
const LoanPeriod = 14 * 24 * time.Hour

type ExchangeTransaction struct {
	ID                string         `json:"id"`
	BookID            string         `json:"bookId"`
	RequesterID       string         `json:"requesterId"`
	Type              ExchangeType   `json:"type"`
	Status            ExchangeStatus `json:"status"`
	Note              string         `json:"note,omitempty"`
	DueDate           *time.Time     `json:"dueDate,omitempty"`
	ApprovedAt        *time.Time     `json:"approvedAt,omitempty"`
	ReturnedAt        *time.Time     `json:"returnedAt,omitempty"`
	OverdueNotifiedAt *time.Time     `json:"-"`
	Overdue           bool           `json:"overdue"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// IsOverdue reports whether an active loan is past its due date at now.
func (t ExchangeTransaction) IsOverdue(now time.Time) bool {
	return t.Status == ExchangeActive && t.DueDate != nil && now.After(*t.DueDate)
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferDeclined  TransferStatus = "declined"
)

func (s TransferStatus) Valid() bool {
	return s == TransferPending || s == TransferCompleted || s == TransferDeclined
}

type MoneyTransfer struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"senderId"`
	RecipientID string          `json:"recipientId"`
	Amount      decimal.Decimal `json:"amount"`
	Note        string          `json:"note,omitempty"`
	Status      TransferStatus  `json:"status"`
	DecidedAt   *time.Time      `json:"decidedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type NotificationType string

const (
	NotifOrderPlaced       NotificationType = "order_placed"
	NotifOrderStatus       NotificationType = "order_status"
	NotifDepositSubmitted  NotificationType = "deposit_submitted"
	NotifDepositApproved   NotificationType = "deposit_approved"
	NotifDepositRejected   NotificationType = "deposit_rejected"
	NotifExchangeRequested NotificationType = "exchange_requested"
	NotifExchangeApproved  NotificationType = "exchange_approved"
	NotifExchangeRejected  NotificationType = "exchange_rejected"
	NotifBookReturned      NotificationType = "book_returned"
	NotifLoanOverdue       NotificationType = "loan_overdue"
	NotifTransferRequested NotificationType = "transfer_requested"
	NotifTransferCompleted NotificationType = "transfer_completed"
	NotifTransferDeclined  NotificationType = "transfer_declined"
	NotifWalletCredited    NotificationType = "wallet_credited"
)

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message,omitempty"`
	Link      string            `json:"link,omitempty"`
	Read      bool              `json:"read"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

type AudiobookStatus string

const (
	AudiobookQueued     AudiobookStatus = "queued"
	AudiobookProcessing AudiobookStatus = "processing"
	AudiobookReady      AudiobookStatus = "ready"
	AudiobookFailed     AudiobookStatus = "failed"
)

type Audiobook struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"ownerId"`
	Title        string          `json:"title"`
	Voice        string          `json:"voice"`
	Status       AudiobookStatus `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	SourceKey    string          `json:"-"`
	AudioKey     string          `json:"-"`
	AudioURL     string          `json:"audioUrl,omitempty"`
	Characters   int             `json:"characters"`
	Segments     int             `json:"segments"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}
