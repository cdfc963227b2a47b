package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ghazal/internal/util"
)

// Metrics holds the storefront collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration     *prometheus.HistogramVec
	OrdersPlacedTotal   *prometheus.CounterVec
	OrderStatusTotal    *prometheus.CounterVec
	ExchangeTransitions *prometheus.CounterVec
	TransfersDecided    *prometheus.CounterVec
	NotificationsSent   prometheus.Counter
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghazal_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"method", "route", "status"},
		),
		OrdersPlacedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghazal_orders_placed_total",
				Help: "Orders placed at checkout by payment method",
			},
			[]string{"payment_method"},
		),
		OrderStatusTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghazal_order_status_changes_total",
				Help: "Order status changes by target status",
			},
			[]string{"status"},
		),
		ExchangeTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghazal_exchange_transitions_total",
				Help: "Exchange deposit and request transitions",
			},
			[]string{"event"},
		),
		TransfersDecided: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghazal_transfers_total",
				Help: "Money transfers by resulting status",
			},
			[]string{"status"},
		),
		NotificationsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ghazal_notifications_sent_total",
				Help: "Notification rows inserted by fan-out",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware observes request latency. The route label is the matched mux
// pattern so ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := util.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode())).
			Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) RecordOrderPlaced(method string) {
	if m == nil {
		return
	}
	m.OrdersPlacedTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordOrderStatus(status string) {
	if m == nil {
		return
	}
	m.OrderStatusTotal.WithLabelValues(status).Inc()
}

// RecordExchange counts events such as "deposit_approved" or "request_approved".
func (m *Metrics) RecordExchange(event string) {
	if m == nil {
		return
	}
	m.ExchangeTransitions.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordTransfer(status string) {
	if m == nil {
		return
	}
	m.TransfersDecided.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordNotifications(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NotificationsSent.Add(float64(n))
}
