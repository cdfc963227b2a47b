package store

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
)

func seedUser(t *testing.T, s *MemoryStore, id string, balance string) {
	t.Helper()
	if err := s.SaveUser(domain.User{ID: id, Email: id + "@example.com", Role: domain.RoleUser, Status: domain.StatusActive, WalletBalance: decimal.RequireFromString(balance)}); err != nil {
		t.Fatalf("save user %s: %v", id, err)
	}
}

func TestMemoryStorePlaceOrderIsAllOrNothing(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "buyer", "10.00")
	now := time.Now().UTC()
	_ = s.SaveProduct(domain.Product{ID: "p1", Kind: domain.KindPhysical, Title: "Divan", Price: decimal.RequireFromString("4.00"), Stock: 3, Active: true, CreatedAt: now})
	_ = s.SaveCartItem(domain.CartItem{UserID: "buyer", ProductID: "p1", Quantity: 2})

	order := domain.Order{
		ID: "o1", UserID: "buyer", Status: domain.OrderConfirmed, PaymentMethod: domain.PaymentWallet,
		Total: decimal.RequireFromString("8.00"), CreatedAt: now,
		Items: []domain.OrderItem{{ID: "i1", OrderID: "o1", ProductID: "p1", Kind: domain.KindPhysical, UnitPrice: decimal.RequireFromString("4.00"), Quantity: 4}},
	}
	err := s.PlaceOrder(PlaceOrderInput{Order: order, Transaction: domain.Transaction{ID: "t1", OrderID: "o1"}, WalletDebit: order.Total})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	order.Items[0].Quantity = 2
	order.Total = decimal.RequireFromString("80.00")
	err = s.PlaceOrder(PlaceOrderInput{Order: order, Transaction: domain.Transaction{ID: "t1", OrderID: "o1"}, WalletDebit: order.Total})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	p, _, _ := s.GetProduct("p1")
	if p.Stock != 3 {
		t.Fatalf("failed checkout must not touch stock, got %d", p.Stock)
	}

	order.Total = decimal.RequireFromString("8.00")
	if err := s.PlaceOrder(PlaceOrderInput{Order: order, Transaction: domain.Transaction{ID: "t1", OrderID: "o1"}, WalletDebit: order.Total}); err != nil {
		t.Fatalf("place order: %v", err)
	}
	p, _, _ = s.GetProduct("p1")
	u, _, _ := s.GetUserByID("buyer")
	cart, _ := s.ListCartItems("buyer")
	if p.Stock != 1 || !u.WalletBalance.Equal(decimal.RequireFromString("2.00")) || len(cart) != 0 {
		t.Fatalf("unexpected state: stock=%d balance=%s cart=%d", p.Stock, u.WalletBalance, len(cart))
	}
}

func TestMemoryStoreUpdateOrderStatusRequiresFrom(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "buyer", "0")
	_ = s.SaveProduct(domain.Product{ID: "p1", Kind: domain.KindPhysical, Stock: 1, Active: true})
	order := domain.Order{ID: "o1", UserID: "buyer", Status: domain.OrderConfirmed,
		Items: []domain.OrderItem{{ProductID: "p1", Kind: domain.KindPhysical, Quantity: 1}}}
	if err := s.PlaceOrder(PlaceOrderInput{Order: order, Transaction: domain.Transaction{ID: "t1", Status: domain.TransactionCompleted}}); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if _, err := s.UpdateOrderStatus(UpdateOrderStatusInput{OrderID: "o1", From: domain.OrderPending, To: domain.OrderCancelled}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	updated, err := s.UpdateOrderStatus(UpdateOrderStatusInput{
		OrderID: "o1", From: domain.OrderConfirmed, To: domain.OrderCancelled,
		Restock: true, Refund: decimal.RequireFromString("5"),
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	p, _, _ := s.GetProduct("p1")
	u, _, _ := s.GetUserByID("buyer")
	if updated.Status != domain.OrderCancelled || p.Stock != 1 || !u.WalletBalance.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected cancel result: status=%s stock=%d balance=%s", updated.Status, p.Stock, u.WalletBalance)
	}
}

func TestMemoryStoreApproveExchangeRejectsCompetitors(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "owner", "0")
	seedUser(t, s, "a", "20")
	seedUser(t, s, "b", "0")
	_ = s.SaveExchangeBook(domain.ExchangeBook{ID: "bk", Status: domain.BookAvailable, DepositorID: "owner", Price: decimal.NewFromInt(12)})
	for _, id := range []string{"a", "b"} {
		if err := s.CreateExchangeTransaction(domain.ExchangeTransaction{ID: "tx-" + id, BookID: "bk", RequesterID: id, Type: domain.ExchangePurchase, Status: domain.ExchangePendingApproval}); err != nil {
			t.Fatalf("create request %s: %v", id, err)
		}
	}
	if err := s.CreateExchangeTransaction(domain.ExchangeTransaction{ID: "tx-dup", BookID: "bk", RequesterID: "a", Status: domain.ExchangePendingApproval}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate pending request to fail, got %v", err)
	}

	at := time.Now().UTC()
	res, err := s.ApproveExchange(ApproveExchangeInput{
		TransactionID: "tx-a", At: at, BookStatus: domain.BookSold,
		Charge: decimal.NewFromInt(12), BuyerID: "a", SellerID: "owner",
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Book.Status != domain.BookSold || res.Transaction.Status != domain.ExchangeActive {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.AutoRejected) != 1 || res.AutoRejected[0].ID != "tx-b" {
		t.Fatalf("expected tx-b auto-rejected, got %+v", res.AutoRejected)
	}
	buyer, _, _ := s.GetUserByID("a")
	seller, _, _ := s.GetUserByID("owner")
	if !buyer.WalletBalance.Equal(decimal.NewFromInt(8)) || !seller.WalletBalance.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("unexpected balances buyer=%s seller=%s", buyer.WalletBalance, seller.WalletBalance)
	}
	if _, err := s.ApproveExchange(ApproveExchangeInput{TransactionID: "tx-b", At: at}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict approving rejected request, got %v", err)
	}
}

func TestMemoryStoreOverdueFilter(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	_ = s.CreateExchangeTransaction(domain.ExchangeTransaction{ID: "late", Status: domain.ExchangeActive, DueDate: &past})
	_ = s.CreateExchangeTransaction(domain.ExchangeTransaction{ID: "ok", Status: domain.ExchangeActive, DueDate: &future})
	_ = s.CreateExchangeTransaction(domain.ExchangeTransaction{ID: "sold", Status: domain.ExchangeActive})

	filter := ExchangeTransactionFilter{DueBefore: &now, OverdueUnnotified: true}
	got, _ := s.ListExchangeTransactions(filter)
	if len(got) != 1 || got[0].ID != "late" {
		t.Fatalf("expected only late loan, got %+v", got)
	}
	if err := s.MarkOverdueNotified("late", now); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if err := s.MarkOverdueNotified("late", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected second mark to conflict, got %v", err)
	}
	got, _ = s.ListExchangeTransactions(filter)
	if len(got) != 0 {
		t.Fatalf("expected no unnotified loans, got %d", len(got))
	}
}

func TestMemoryStoreCompleteTransferChecksBalance(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "from", "5")
	seedUser(t, s, "to", "0")
	_ = s.CreateTransfer(domain.MoneyTransfer{ID: "tr", SenderID: "from", RecipientID: "to", Amount: decimal.NewFromInt(6), Status: domain.TransferPending})
	if _, err := s.CompleteTransfer("tr", time.Now()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := s.CreditWallet("from", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	tr, err := s.CompleteTransfer("tr", time.Now())
	if err != nil || tr.Status != domain.TransferCompleted || tr.DecidedAt == nil {
		t.Fatalf("complete transfer: %+v err=%v", tr, err)
	}
	to, _, _ := s.GetUserByID("to")
	if !to.WalletBalance.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("unexpected recipient balance %s", to.WalletBalance)
	}
	if _, err := s.DeclineTransfer("tr", time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected decided transfer to conflict, got %v", err)
	}
}
