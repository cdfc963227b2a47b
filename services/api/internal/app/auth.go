package app

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ghazal/internal/util"
	"ghazal/pkg/auth"
	"ghazal/pkg/domain"
	"ghazal/pkg/store"
)

// Session is a signed-in user with their access token.
type Session struct {
	User      domain.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// ProfileUpdate changes contact details. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName        *string
	Phone           *string
	ShippingAddress *string
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SignUp registers a user. The first account becomes admin.
func (a *App) SignUp(email, password, fullName string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, ErrEmailAndPasswordRequired
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return Session{}, err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return Session{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return Session{}, ErrEmailAlreadyExists
	}
	count, err := a.store.UserCount()
	if err != nil {
		return Session{}, fmt.Errorf("count users: %w", err)
	}
	role := domain.RoleUser
	if count == 0 {
		role = domain.RoleAdmin
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, ErrEmailAlreadyExists
		}
		return Session{}, fmt.Errorf("save user: %w", err)
	}
	return a.issueSession(user)
}

// Login validates credentials and issues an access token.
func (a *App) Login(email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return Session{}, ErrInvalidCredentials
	}
	return a.issueSession(user)
}

func (a *App) issueSession(user domain.User) (Session, error) {
	token, expires, err := a.sessions.NewSession(user)
	if err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	return Session{User: user, Token: token, ExpiresAt: expires}, nil
}

// Logout revokes the token until it would have expired.
func (a *App) Logout(token string) error {
	return a.sessions.Revoke(token)
}

// UserFromToken resolves the token owner, rejecting revoked tokens and disabled users.
func (a *App) UserFromToken(token string) (domain.User, error) {
	claims, err := a.sessions.Verify(token)
	if err != nil {
		return domain.User{}, ErrInvalidToken
	}
	user, ok, err := a.store.GetUserByID(claims.Subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidToken
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, ErrUserDisabled
	}
	return user, nil
}

// UpdateProfile changes the user's name, phone and default shipping address.
func (a *App) UpdateProfile(user domain.User, in ProfileUpdate) (domain.User, error) {
	current, err := a.loadUser(user.ID)
	if err != nil {
		return domain.User{}, err
	}
	if in.FullName != nil {
		current.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Phone != nil {
		current.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.ShippingAddress != nil {
		current.ShippingAddress = strings.TrimSpace(*in.ShippingAddress)
	}
	current.UpdatedAt = a.now()
	if err := a.store.SaveUser(current); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return current, nil
}

// JWKS returns the public keys other services use to verify user tokens.
func (a *App) JWKS() auth.JWKSet {
	return a.sessions.JWKS()
}

// ListUsers returns every account for the admin console.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// SetUserRole changes a role and revokes the user's existing tokens so the
// new role claim takes effect on the next login.
func (a *App) SetUserRole(userID string, role domain.UserRole) (domain.User, error) {
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return domain.User{}, ErrInvalidRole
	}
	user, err := a.loadUser(userID)
	if err != nil {
		return domain.User{}, err
	}
	if user.Role == role {
		return user, nil
	}
	user.Role = role
	return a.saveAndRevoke(user)
}

// SetUserStatus disables or re-enables an account.
func (a *App) SetUserStatus(userID string, status domain.UserStatus) (domain.User, error) {
	if status != domain.StatusActive && status != domain.StatusDisabled {
		return domain.User{}, ErrInvalidUserStatus
	}
	user, err := a.loadUser(userID)
	if err != nil {
		return domain.User{}, err
	}
	if user.Status == status {
		return user, nil
	}
	user.Status = status
	return a.saveAndRevoke(user)
}

// PromoteByEmail grants the admin role to the account with the given email.
func (a *App) PromoteByEmail(email string) (domain.User, error) {
	user, ok, err := a.store.GetUserByEmail(strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return a.SetUserRole(user.ID, domain.RoleAdmin)
}

func (a *App) saveAndRevoke(user domain.User) (domain.User, error) {
	now := a.now()
	user.UpdatedAt = now
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	if err := a.sessions.RevokeUser(user.ID, now); err != nil {
		return domain.User{}, fmt.Errorf("revoke sessions: %w", err)
	}
	return user, nil
}
