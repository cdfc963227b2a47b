package server

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
	"ghazal/services/api/internal/app"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"fullName" validate:"max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type profileRequest struct {
	FullName        *string `json:"fullName" validate:"omitempty,max=120"`
	Phone           *string `json:"phone" validate:"omitempty,max=32"`
	ShippingAddress *string `json:"shippingAddress" validate:"omitempty,max=500"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required"`
}

type userStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type creditRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=500"`
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, s.app.JWKS())
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	session, err := s.app.SignUp(req.Email, req.Password, req.FullName)
	if err != nil {
		s.audit(r, "signup", "failure", "email", strings.ToLower(req.Email))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup", "success", "user_id", session.User.ID, "role", session.User.Role)
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	key := "login|" + s.clientIP(r)
	if !s.allowRate(w, r, s.loginLimiter, key) {
		s.audit(r, "login", "rate_limited")
		return
	}
	session, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "failure", "email", strings.ToLower(req.Email))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req profileRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.UpdateProfile(user, app.ProfileUpdate{
		FullName:        req.FullName,
		Phone:           req.Phone,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.ListUsers()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, users)
}

func (s *Server) handleAdminUserRole(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req roleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	user, err := s.app.SetUserRole(id, domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role))))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "user_role_changed", "success", "admin_id", admin.ID, "target_user_id", id, "role", user.Role)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminUserStatus(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req userStatusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if id == admin.ID {
		writeErrorCode(w, http.StatusBadRequest, "USER_SELF_STATUS", "cannot change your own status")
		return
	}
	user, err := s.app.SetUserStatus(id, domain.UserStatus(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "user_status_changed", "success", "admin_id", admin.ID, "target_user_id", id, "status", user.Status)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminCredit(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req creditRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	user, err := s.app.CreditWallet(r.Context(), id, req.Amount, req.Note)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "wallet_credited", "success", "admin_id", admin.ID, "target_user_id", id, "amount", req.Amount.StringFixed(2))
	writeJSON(w, http.StatusOK, user)
}
