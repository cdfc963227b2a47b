package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderConfirmed, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderShipped, false},
		{OrderConfirmed, OrderShipped, true},
		{OrderConfirmed, OrderCancelled, true},
		{OrderShipped, OrderDelivered, true},
		{OrderShipped, OrderCancelled, false},
		{OrderDelivered, OrderPending, false},
		{OrderCancelled, OrderConfirmed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if OrderStatus("lost").Valid() {
		t.Fatalf("unknown status should be invalid")
	}
}

func TestOrderTotals(t *testing.T) {
	order := Order{Items: []OrderItem{
		{Kind: KindEbook, UnitPrice: decimal.RequireFromString("4.99"), Quantity: 1},
		{Kind: KindPhysical, UnitPrice: decimal.RequireFromString("12.50"), Quantity: 3},
	}}
	if !order.HasPhysicalItems() {
		t.Fatalf("expected physical items")
	}
	if got := order.Items[1].LineTotal(); !got.Equal(decimal.RequireFromString("37.50")) {
		t.Fatalf("line total = %s", got)
	}
	ebookOnly := Order{Items: order.Items[:1]}
	if ebookOnly.HasPhysicalItems() {
		t.Fatalf("ebook-only order should not need shipping")
	}
}

func TestExchangeTransactionIsOverdue(t *testing.T) {
	approved := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	due := approved.Add(LoanPeriod)
	tx := ExchangeTransaction{Type: ExchangeBorrow, Status: ExchangeActive, DueDate: &due}

	if tx.IsOverdue(due) {
		t.Fatalf("loan is not overdue at the due instant")
	}
	if !tx.IsOverdue(due.Add(time.Second)) {
		t.Fatalf("loan should be overdue after due date")
	}
	tx.Status = ExchangeReturned
	if tx.IsOverdue(due.Add(time.Hour)) {
		t.Fatalf("returned loans are never overdue")
	}
	purchase := ExchangeTransaction{Type: ExchangePurchase, Status: ExchangeActive}
	if purchase.IsOverdue(due.Add(time.Hour)) {
		t.Fatalf("purchases have no due date")
	}
}

func TestEnumValidation(t *testing.T) {
	if !ExchangeSwap.IsLoan() || ExchangePurchase.IsLoan() {
		t.Fatalf("loan classification wrong")
	}
	if !ConditionLikeNew.Valid() || BookCondition("mint").Valid() {
		t.Fatalf("condition validation wrong")
	}
	if !PaymentCashOnDelivery.Valid() || PaymentMethod("card").Valid() {
		t.Fatalf("payment validation wrong")
	}
	if !BookOnLoan.Valid() || !TransferDeclined.Valid() || TransferStatus("").Valid() {
		t.Fatalf("status validation wrong")
	}
	if (User{Role: RoleAdmin}).IsAdmin() == false || (User{Role: RoleUser}).IsAdmin() {
		t.Fatalf("admin check wrong")
	}
}
