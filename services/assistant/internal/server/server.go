package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"ghazal/internal/ratelimit"
	"ghazal/internal/usertoken"
	"ghazal/internal/util"
	"ghazal/pkg/ai"
	"ghazal/services/assistant/internal/app"
)

// Limiter is the per-user quota on /chat.
type Limiter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	Limiter        Limiter
	AllowedOrigins []string
}

// Server exposes HTTP endpoints for the assistant.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	limiter        Limiter
	allowedOrigins []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server: token verifier required")
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		limiter:        cfg.Limiter,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("assistant",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /chat", usertoken.Require(s.tokenVerifier, http.HandlerFunc(s.handleChat)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Messages []ai.Message `json:"messages"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	principal, _ := usertoken.PrincipalFromContext(r.Context())
	if s.limiter != nil {
		d := s.limiter.Allow(r.Context(), "chat|"+principal.UserID)
		if !d.Allowed {
			secs := int(d.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeErrorCode(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "REQUEST_INVALID_JSON", "invalid JSON body")
		return
	}
	reply, err := s.app.Reply(r.Context(), req.Messages)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

var validationErrors = []error{
	app.ErrNoMessages,
	app.ErrTooManyMessages,
	app.ErrMessageTooLong,
	app.ErrEmptyMessage,
	app.ErrInvalidRole,
	app.ErrLastNotUser,
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			writeErrorCode(w, r, http.StatusBadRequest, "CHAT_INVALID_MESSAGES", err.Error())
			return
		}
	}
	logger := util.LoggerFromContext(r.Context())
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) || errors.Is(err, ai.ErrEmptyCompletion) {
		logger.Warn("llm gateway failed", "err", err)
		writeErrorCode(w, r, http.StatusBadGateway, "CHAT_UPSTREAM_FAILED", "assistant is unavailable")
		return
	}
	logger.Error("chat failed", "err", err)
	writeErrorCode(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
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
