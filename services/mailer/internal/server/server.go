package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ghazal/internal/servicetoken"
	"ghazal/internal/util"
	"ghazal/pkg/email"
	"ghazal/services/mailer/internal/app"
)

const maxBodyBytes = 256 << 10

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *servicetoken.Verifier
}

// Server exposes the internal email endpoints.
type Server struct {
	app           *app.App
	tokenVerifier *servicetoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server: service token verifier required")
	}
	s := &Server{app: cfg.App, tokenVerifier: cfg.TokenVerifier, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Router returns the configured handler. The endpoints are internal, so no
// CORS.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("mailer", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("POST /emails/order-confirmation", servicetoken.Require(s.tokenVerifier, http.HandlerFunc(s.handleOrderConfirmation)))
	s.mux.Handle("POST /emails/transfer-notice", servicetoken.Require(s.tokenVerifier, http.HandlerFunc(s.handleTransferNotice)))
}

type sentResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleOrderConfirmation(w http.ResponseWriter, r *http.Request) {
	var p email.OrderConfirmation
	if !decodeJSON(w, r, &p) {
		return
	}
	id, err := s.app.SendOrderConfirmation(r.Context(), p, idempotencyKey(r))
	if err != nil {
		s.writeSendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sentResponse{ID: id})
}

func (s *Server) handleTransferNotice(w http.ResponseWriter, r *http.Request) {
	var n email.TransferNotice
	if !decodeJSON(w, r, &n) {
		return
	}
	id, err := s.app.SendTransferNotice(r.Context(), n, idempotencyKey(r))
	if err != nil {
		s.writeSendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sentResponse{ID: id})
}

func idempotencyKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		return key
	}
	return util.RequestIDFromRequest(r)
}

func (s *Server) writeSendError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, email.ErrInvalidPayload) {
		writeErrorCode(w, r, http.StatusBadRequest, "EMAIL_INVALID_PAYLOAD", err.Error())
		return
	}
	logger := util.LoggerFromContext(r.Context())
	if app.Retryable(err) {
		logger.Warn("email send failed", "err", err)
		writeErrorCode(w, r, http.StatusServiceUnavailable, "EMAIL_PROVIDER_UNAVAILABLE", "email provider unavailable")
		return
	}
	logger.Error("email rejected by provider", "err", err)
	writeErrorCode(w, r, http.StatusBadGateway, "EMAIL_SEND_FAILED", "email provider rejected the message")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "REQUEST_INVALID_JSON", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}
