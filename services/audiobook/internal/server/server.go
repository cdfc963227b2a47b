package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ghazal/internal/usertoken"
	"ghazal/internal/util"
	"ghazal/pkg/ai"
	"ghazal/services/audiobook/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	AllowedOrigins []string
}

// Server exposes the audiobook endpoints.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
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
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("audiobook",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /audiobooks/voices", s.handleVoices)
	s.mux.Handle("POST /audiobooks", s.auth(s.handleCreate))
	s.mux.Handle("GET /audiobooks", s.auth(s.handleList))
	s.mux.Handle("GET /audiobooks/{id}", s.auth(s.handleGet))
	s.mux.Handle("GET /audiobooks/{id}/audio", s.auth(s.handleAudio))
	s.mux.Handle("DELETE /audiobooks/{id}", s.auth(s.handleDelete))
}

func (s *Server) auth(next func(http.ResponseWriter, *http.Request, app.Caller)) http.Handler {
	return usertoken.Require(s.tokenVerifier, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := usertoken.PrincipalFromContext(r.Context())
		next(w, r, app.Caller{UserID: p.UserID, Admin: p.IsAdmin()})
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"voices": ai.Voices})
}

type createRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	var req createRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(w, r, http.StatusRequestEntityTooLarge, "AUDIOBOOK_TEXT_TOO_LONG", "request body too large")
			return
		}
		writeErrorCode(w, r, http.StatusBadRequest, "REQUEST_INVALID_JSON", "invalid JSON body")
		return
	}
	book, err := s.app.Create(r.Context(), caller, app.CreateInput{Title: req.Title, Text: req.Text, Voice: req.Voice})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, book)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	books, err := s.app.List(caller)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	book, err := s.app.Get(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	url, err := s.app.AudioURL(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if err := s.app.Delete(r.Context(), caller, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrTextRequired):
		writeErrorCode(w, r, http.StatusBadRequest, "AUDIOBOOK_TEXT_REQUIRED", err.Error())
	case errors.Is(err, app.ErrTextTooLong):
		writeErrorCode(w, r, http.StatusRequestEntityTooLarge, "AUDIOBOOK_TEXT_TOO_LONG", err.Error())
	case errors.Is(err, app.ErrTitleTooLong):
		writeErrorCode(w, r, http.StatusBadRequest, "AUDIOBOOK_TITLE_TOO_LONG", err.Error())
	case errors.Is(err, app.ErrInvalidVoice):
		writeErrorCode(w, r, http.StatusBadRequest, "AUDIOBOOK_INVALID_VOICE", err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "AUDIOBOOK_NOT_FOUND", err.Error())
	case errors.Is(err, app.ErrNotReady):
		writeErrorCode(w, r, http.StatusConflict, "AUDIOBOOK_NOT_READY", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("audiobook request failed", "err", err)
		writeErrorCode(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
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
