package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID              string `gorm:"primaryKey"`
	Email           string `gorm:"uniqueIndex;not null"`
	PasswordHash    string `gorm:"not null"`
	FullName        string
	Phone           string
	ShippingAddress string
	Role            string `gorm:"not null;index"`
	Status          string
	WalletBalance   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time
}

type ProductModel struct {
	ID            string `gorm:"primaryKey"`
	Kind          string `gorm:"not null;index"`
	Title         string `gorm:"not null"`
	Author        string
	Description   string          `gorm:"type:text"`
	Category      string          `gorm:"index"`
	Price         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Stock         int             `gorm:"not null;default:0"`
	CoverKey      string
	EbookKey      string
	EbookFilename string
	Active        bool      `gorm:"not null;default:true;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type CartItemModel struct {
	UserID    string    `gorm:"primaryKey"`
	ProductID string    `gorm:"primaryKey"`
	Quantity  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type OrderModel struct {
	ID              string          `gorm:"primaryKey"`
	UserID          string          `gorm:"not null;index"`
	Status          string          `gorm:"not null;index"`
	Total           decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PaymentMethod   string          `gorm:"not null"`
	ShippingAddress string
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type OrderItemModel struct {
	ID        string          `gorm:"primaryKey"`
	OrderID   string          `gorm:"not null;index"`
	ProductID string          `gorm:"not null;index"`
	Kind      string          `gorm:"not null"`
	Title     string          `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Quantity  int             `gorm:"not null"`
}

type TransactionModel struct {
	ID        string          `gorm:"primaryKey"`
	OrderID   string          `gorm:"not null;uniqueIndex"`
	UserID    string          `gorm:"not null;index"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Method    string          `gorm:"not null"`
	Status    string          `gorm:"not null"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

type ExchangeBookModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Author      string
	Condition   string          `gorm:"not null"`
	Description string          `gorm:"type:text"`
	Status      string          `gorm:"not null;index"`
	DepositorID string          `gorm:"not null;index"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	ApprovedAt  *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type ExchangeTransactionModel struct {
	ID                string `gorm:"primaryKey"`
	BookID            string `gorm:"not null;index"`
	RequesterID       string `gorm:"not null;index"`
	Type              string `gorm:"not null"`
	Status            string `gorm:"not null;index"`
	Note              string
	DueDate           *time.Time `gorm:"index"`
	ApprovedAt        *time.Time
	ReturnedAt        *time.Time
	OverdueNotifiedAt *time.Time
	CreatedAt         time.Time `gorm:"not null;index"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type MoneyTransferModel struct {
	ID          string          `gorm:"primaryKey"`
	SenderID    string          `gorm:"not null;index"`
	RecipientID string          `gorm:"not null;index"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Note        string
	Status      string `gorm:"not null;index"`
	DecidedAt   *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type NotificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index:idx_notifications_user_read"`
	Type      string `gorm:"not null"`
	Title     string `gorm:"not null"`
	Message   string `gorm:"type:text"`
	Link      string
	Read      bool           `gorm:"not null;default:false;index:idx_notifications_user_read"`
	Data      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

type AudiobookModel struct {
	ID           string `gorm:"primaryKey"`
	OwnerID      string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	Voice        string `gorm:"not null"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	SourceKey    string
	AudioKey     string
	Characters   int       `gorm:"not null"`
	Segments     int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}
