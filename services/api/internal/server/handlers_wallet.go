package server

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
)

type transferRequest struct {
	RecipientEmail string          `json:"recipientEmail" validate:"required,email"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note" validate:"max=500"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request, user domain.User) {
	wallet, err := s.app.Wallet(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleRequestTransfer(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req transferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	transfer, err := s.app.RequestTransfer(r.Context(), user, req.RecipientEmail, req.Amount, req.Note)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

func (s *Server) handleAdminTransfers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status := domain.TransferStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	transfers, err := s.app.ListTransfers(status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, transfers)
}

func (s *Server) handleApproveTransfer(w http.ResponseWriter, r *http.Request, admin domain.User) {
	transfer, err := s.app.ApproveTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "transfer_approved", "success", "admin_id", admin.ID, "transfer_id", transfer.ID, "amount", transfer.Amount.StringFixed(2))
	writeJSON(w, http.StatusOK, transfer)
}

func (s *Server) handleDeclineTransfer(w http.ResponseWriter, r *http.Request, admin domain.User) {
	transfer, err := s.app.DeclineTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "transfer_declined", "success", "admin_id", admin.ID, "transfer_id", transfer.ID)
	writeJSON(w, http.StatusOK, transfer)
}
