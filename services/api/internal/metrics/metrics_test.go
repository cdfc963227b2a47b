package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := m.Middleware(mux)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
	}
	if got := testutil.CollectAndCount(m.RequestDuration); got != 1 {
		t.Fatalf("expected one series for the pattern, got %d", got)
	}
}

func TestRecordersAndHandler(t *testing.T) {
	m := New()
	m.RecordOrderPlaced("wallet")
	m.RecordOrderPlaced("wallet")
	m.RecordOrderStatus("shipped")
	m.RecordExchange("request_approved")
	m.RecordTransfer("completed")
	m.RecordNotifications(3)
	m.RecordNotifications(0)

	if got := testutil.ToFloat64(m.OrdersPlacedTotal.WithLabelValues("wallet")); got != 2 {
		t.Fatalf("orders placed = %v", got)
	}
	if got := testutil.ToFloat64(m.NotificationsSent); got != 3 {
		t.Fatalf("notifications sent = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ghazal_transfers_total") {
		t.Fatalf("expected transfer counter in exposition output")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordOrderPlaced("wallet")
	m.RecordNotifications(1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if h := m.Middleware(next); h == nil {
		t.Fatalf("expected passthrough handler")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics, got %d", rec.Code)
	}
}
