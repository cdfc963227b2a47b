package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ghazal/internal/usertoken"
	"ghazal/internal/util"
	"ghazal/services/extract/internal/app"
)

const defaultMaxUploadBytes = 25 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// TokenVerifier, when set, requires a user token on /extract.
	TokenVerifier  *usertoken.Verifier
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Server exposes HTTP endpoints for the extract function.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	maxUploadBytes int64
	allowedOrigins []string
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
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		maxUploadBytes: maxUploadBytes,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("extract",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	var extract http.Handler = http.HandlerFunc(s.handleExtract)
	if s.tokenVerifier != nil {
		extract = usertoken.Require(s.tokenVerifier, extract)
	}
	s.mux.Handle("POST /extract", extract)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "EXTRACT_FILE_TOO_LARGE", "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "EXTRACT_INVALID_FORM", "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "EXTRACT_FILE_REQUIRED", "file is required")
		return
	}
	defer file.Close()

	res, err := s.app.Extract(r.Context(), header.Filename, file)
	if err != nil {
		logger := util.LoggerFromContext(r.Context())
		switch {
		case errors.Is(err, app.ErrUnsupportedFormat):
			writeError(w, r, http.StatusUnsupportedMediaType, "EXTRACT_UNSUPPORTED_FORMAT", err.Error())
		case errors.Is(err, app.ErrNoText), errors.Is(err, app.ErrUnreadable):
			logger.Info("extract produced no text", "filename", header.Filename, "err", err)
			writeError(w, r, http.StatusUnprocessableEntity, "EXTRACT_NO_TEXT", err.Error())
		default:
			logger.Error("extract failed", "filename", header.Filename, "err", err)
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		}
		return
	}
	util.LoggerFromContext(r.Context()).Info("text extracted",
		"format", res.Format, "characters", res.Characters, "truncated", res.Truncated)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, map[string]string{
		"error":     msg,
		"code":      code,
		"requestId": util.RequestIDFromRequest(r),
	})
}
