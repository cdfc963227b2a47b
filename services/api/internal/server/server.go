package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ghazal/internal/ratelimit"
	"ghazal/internal/util"
	"ghazal/pkg/domain"
	"ghazal/services/api/internal/app"
	"ghazal/services/api/internal/metrics"
	"ghazal/services/api/internal/realtime"
)

const (
	defaultMaxUploadBytes = 50 << 20
	defaultHeartbeat      = 25 * time.Second
)

// Subscriber opens a live notification feed for one user.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (*realtime.Subscription, error)
}

// Limiter decides whether one more request for key fits the quota.
type Limiter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Realtime       Subscriber
	Metrics        *metrics.Metrics
	LoginLimiter   Limiter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	MaxUploadBytes int64
	// Heartbeat is the comment interval on the notification stream.
	Heartbeat time.Duration
}

// Server exposes HTTP endpoints for the storefront.
type Server struct {
	app            *app.App
	realtime       Subscriber
	metrics        *metrics.Metrics
	loginLimiter   Limiter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	validate       *requestValidator
	maxUploadBytes int64
	heartbeat      time.Duration
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	s := &Server{
		app:            cfg.App,
		realtime:       cfg.Realtime,
		metrics:        cfg.Metrics,
		loginLimiter:   cfg.LoginLimiter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		validate:       newRequestValidator(),
		maxUploadBytes: maxUploadBytes,
		heartbeat:      heartbeat,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("api",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.metrics.Middleware(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// auth
	s.mux.HandleFunc("GET /auth/jwks", s.handleJWKS)
	s.mux.HandleFunc("POST /auth/signup", s.handleSignup)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.Handle("GET /auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("PATCH /auth/me", s.authenticated(s.handleUpdateProfile))

	// catalog
	s.mux.HandleFunc("GET /products", s.handleListProducts)
	s.mux.HandleFunc("GET /products/{id}", s.handleGetProduct)
	s.mux.Handle("GET /library", s.authenticated(s.handleLibrary))
	s.mux.Handle("GET /library/{id}/download", s.authenticated(s.handleEbookDownload))

	// cart and orders
	s.mux.Handle("GET /cart", s.authenticated(s.handleCart))
	s.mux.Handle("POST /cart/items", s.authenticated(s.handleAddToCart))
	s.mux.Handle("PATCH /cart/items/{productId}", s.authenticated(s.handleUpdateCartItem))
	s.mux.Handle("DELETE /cart/items/{productId}", s.authenticated(s.handleRemoveFromCart))
	s.mux.Handle("POST /orders", s.authenticated(s.handleCheckout))
	s.mux.Handle("GET /orders", s.authenticated(s.handleListOrders))
	s.mux.Handle("GET /orders/{id}", s.authenticated(s.handleGetOrder))

	// exchange
	s.mux.HandleFunc("GET /exchange/books", s.handleListExchangeBooks)
	s.mux.HandleFunc("GET /exchange/books/{id}", s.handleGetExchangeBook)
	s.mux.Handle("POST /exchange/books", s.authenticated(s.handleDepositBook))
	s.mux.Handle("GET /exchange/deposits", s.authenticated(s.handleMyDeposits))
	s.mux.Handle("POST /exchange/books/{id}/requests", s.authenticated(s.handleRequestBook))
	s.mux.Handle("GET /exchange/requests", s.authenticated(s.handleMyRequests))
	s.mux.Handle("POST /exchange/requests/{id}/return", s.authenticated(s.handleReturnBook))

	// wallet
	s.mux.Handle("GET /wallet", s.authenticated(s.handleWallet))
	s.mux.Handle("POST /wallet/transfers", s.authenticated(s.handleRequestTransfer))

	// notifications
	s.mux.Handle("GET /notifications", s.authenticated(s.handleNotifications))
	s.mux.Handle("GET /notifications/unread-count", s.authenticated(s.handleUnreadCount))
	s.mux.Handle("POST /notifications/{id}/read", s.authenticated(s.handleMarkRead))
	s.mux.Handle("POST /notifications/read-all", s.authenticated(s.handleMarkAllRead))
	s.mux.Handle("GET /notifications/stream", s.streamAuthenticated(s.handleNotificationStream))

	// admin
	s.mux.Handle("GET /admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("PATCH /admin/users/{id}/role", s.adminOnly(s.handleAdminUserRole))
	s.mux.Handle("PATCH /admin/users/{id}/status", s.adminOnly(s.handleAdminUserStatus))
	s.mux.Handle("POST /admin/users/{id}/credit", s.adminOnly(s.handleAdminCredit))
	s.mux.Handle("GET /admin/products", s.adminOnly(s.handleAdminListProducts))
	s.mux.Handle("POST /admin/products", s.adminOnly(s.handleCreateProduct))
	s.mux.Handle("PATCH /admin/products/{id}", s.adminOnly(s.handleUpdateProduct))
	s.mux.Handle("DELETE /admin/products/{id}", s.adminOnly(s.handleDeleteProduct))
	s.mux.Handle("GET /admin/orders", s.adminOnly(s.handleAdminOrders))
	s.mux.Handle("PATCH /admin/orders/{id}/status", s.adminOnly(s.handleUpdateOrderStatus))
	s.mux.Handle("GET /admin/exchange/books", s.adminOnly(s.handleAdminExchangeBooks))
	s.mux.Handle("POST /admin/exchange/books/{id}/approve", s.adminOnly(s.handleApproveDeposit))
	s.mux.Handle("POST /admin/exchange/books/{id}/reject", s.adminOnly(s.handleRejectDeposit))
	s.mux.Handle("GET /admin/exchange/requests", s.adminOnly(s.handleAdminExchangeRequests))
	s.mux.Handle("GET /admin/exchange/overdue", s.adminOnly(s.handleOverdueLoans))
	s.mux.Handle("POST /admin/exchange/requests/{id}/approve", s.adminOnly(s.handleApproveRequest))
	s.mux.Handle("POST /admin/exchange/requests/{id}/reject", s.adminOnly(s.handleRejectRequest))
	s.mux.Handle("GET /admin/transfers", s.adminOnly(s.handleAdminTransfers))
	s.mux.Handle("POST /admin/transfers/{id}/approve", s.adminOnly(s.handleApproveTransfer))
	s.mux.Handle("POST /admin/transfers/{id}/decline", s.adminOnly(s.handleDeclineTransfer))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.serveAs(w, r, token, next)
	})
}

// streamAuthenticated also accepts ?access_token= because EventSource
// cannot set headers.
func (s *Server) streamAuthenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.serveAs(w, r, token, next)
	})
}

func (s *Server) serveAs(w http.ResponseWriter, r *http.Request, token string, next authHandler) {
	user, err := s.app.UserFromToken(token)
	if err != nil {
		if errors.Is(err, app.ErrInvalidToken) || errors.Is(err, app.ErrUserDisabled) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
	next(w, r.WithContext(ctx), user)
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsAdmin() {
			s.audit(r, "admin_access", "denied", "user_id", user.ID)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

// viewer resolves an optional bearer token for public routes. Anonymous or
// invalid tokens yield the zero user.
func (s *Server) viewer(r *http.Request) domain.User {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}
	}
	user, err := s.app.UserFromToken(token)
	if err != nil {
		return domain.User{}
	}
	return user
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter Limiter, key string) bool {
	if limiter == nil {
		return true
	}
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

// decodeJSON reads a bounded JSON body into dst and validates its tags.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Validate(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "REQUEST_VALIDATION_FAILED", err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return b
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func logError(r *http.Request, msg string, err error) {
	util.LoggerFromContext(r.Context()).Error(msg, slog.String("path", r.URL.Path), slog.Any("err", err))
}
