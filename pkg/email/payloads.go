package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Job kinds carried on the email queue.
const (
	KindOrderConfirmation = "order_confirmation"
	KindTransferNotice    = "transfer_notice"
)

// ErrInvalidPayload wraps every payload validation failure.
var ErrInvalidPayload = errors.New("invalid email payload")

// OrderLine is one item of an order confirmation.
type OrderLine struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineTotal is UnitPrice times Quantity.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderConfirmation is sent to the buyer after checkout.
type OrderConfirmation struct {
	To              string          `json:"to"`
	CustomerName    string          `json:"customerName"`
	OrderID         string          `json:"orderId"`
	Items           []OrderLine     `json:"items"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"paymentMethod"`
	ShippingAddress string          `json:"shippingAddress,omitempty"`
	PlacedAt        time.Time       `json:"placedAt"`
}

// Validate checks the fields the template relies on.
func (o OrderConfirmation) Validate() error {
	if err := validAddress(o.To); err != nil {
		return err
	}
	if strings.TrimSpace(o.OrderID) == "" {
		return fmt.Errorf("%w: orderId required", ErrInvalidPayload)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrInvalidPayload)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: bad item %q", ErrInvalidPayload, item.Title)
		}
	}
	return nil
}

// TransferNotice tells a recipient that a wallet transfer was completed.
type TransferNotice struct {
	To            string          `json:"to"`
	RecipientName string          `json:"recipientName"`
	SenderName    string          `json:"senderName"`
	SenderEmail   string          `json:"senderEmail"`
	Amount        decimal.Decimal `json:"amount"`
	Note          string          `json:"note,omitempty"`
	CompletedAt   time.Time       `json:"completedAt"`
}

func (n TransferNotice) Validate() error {
	if err := validAddress(n.To); err != nil {
		return err
	}
	if !n.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayload)
	}
	return nil
}

func validAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: recipient required", ErrInvalidPayload)
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrInvalidPayload, addr, err)
	}
	return nil
}
