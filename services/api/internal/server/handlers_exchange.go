package server

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
	"ghazal/pkg/store"
	"ghazal/services/api/internal/app"
)

type depositRequest struct {
	Title       string          `json:"title" validate:"max=200"`
	Author      string          `json:"author" validate:"max=200"`
	Condition   string          `json:"condition" validate:"required"`
	Description string          `json:"description" validate:"max=2000"`
	Price       decimal.Decimal `json:"price"`
}

type bookRequest struct {
	Type string `json:"type" validate:"required"`
	Note string `json:"note" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleListExchangeBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListAvailableBooks(r.URL.Query().Get("q"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleGetExchangeBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.GetExchangeBook(s.viewer(r), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDepositBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req depositRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	book, err := s.app.DepositBook(r.Context(), user, app.DepositInput{
		Title:       req.Title,
		Author:      req.Author,
		Condition:   domain.BookCondition(strings.ToLower(strings.TrimSpace(req.Condition))),
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleMyDeposits(w http.ResponseWriter, r *http.Request, user domain.User) {
	books, err := s.app.MyDeposits(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleRequestBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req bookRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	kind := domain.ExchangeType(strings.ToLower(strings.TrimSpace(req.Type)))
	tx, err := s.app.RequestBook(r.Context(), user, r.PathValue("id"), kind, req.Note)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleMyRequests(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.MyRequests(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleReturnBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	tx, err := s.app.ReturnBook(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleAdminExchangeBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status := domain.ExchangeBookStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	books, err := s.app.ListBooks(status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleApproveDeposit(w http.ResponseWriter, r *http.Request, admin domain.User) {
	book, err := s.app.ApproveDeposit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "deposit_approved", "success", "admin_id", admin.ID, "book_id", book.ID)
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleRejectDeposit(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req rejectRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	book, err := s.app.RejectDeposit(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "deposit_rejected", "success", "admin_id", admin.ID, "book_id", book.ID)
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAdminExchangeRequests(w http.ResponseWriter, r *http.Request, _ domain.User) {
	q := r.URL.Query()
	items, err := s.app.ListTransactions(store.ExchangeTransactionFilter{
		RequesterID: strings.TrimSpace(q.Get("requesterId")),
		BookID:      strings.TrimSpace(q.Get("bookId")),
		Status:      domain.ExchangeStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		Type:        domain.ExchangeType(strings.ToLower(strings.TrimSpace(q.Get("type")))),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleOverdueLoans(w http.ResponseWriter, r *http.Request, _ domain.User) {
	items, err := s.app.OverdueLoans()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request, admin domain.User) {
	tx, err := s.app.ApproveRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "exchange_approved", "success", "admin_id", admin.ID, "request_id", tx.ID, "type", tx.Type)
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request, admin domain.User) {
	tx, err := s.app.RejectRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "exchange_rejected", "success", "admin_id", admin.ID, "request_id", tx.ID)
	writeJSON(w, http.StatusOK, tx)
}
