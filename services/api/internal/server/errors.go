package server

import (
	"errors"
	"net/http"
	"strings"

	"ghazal/pkg/auth"
	"ghazal/services/api/internal/app"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type appErrorMapping struct {
	err    error
	status int
	code   string
}

// appErrors is matched in order with errors.Is.
var appErrors = []appErrorMapping{
	{app.ErrInvalidCredentials, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
	{app.ErrInvalidToken, http.StatusUnauthorized, "AUTH_INVALID_TOKEN"},
	{app.ErrUserDisabled, http.StatusUnauthorized, "AUTH_INVALID_TOKEN"},
	{app.ErrEmailAndPasswordRequired, http.StatusBadRequest, "AUTH_EMAIL_PASSWORD_REQUIRED"},
	{app.ErrInvalidEmail, http.StatusBadRequest, "AUTH_INVALID_EMAIL"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "AUTH_WEAK_PASSWORD"},
	{app.ErrEmailAlreadyExists, http.StatusConflict, "AUTH_EMAIL_EXISTS"},
	{app.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{app.ErrInvalidRole, http.StatusBadRequest, "USER_INVALID_ROLE"},
	{app.ErrInvalidUserStatus, http.StatusBadRequest, "USER_INVALID_STATUS"},
	{app.ErrForbidden, http.StatusForbidden, "AUTH_FORBIDDEN"},

	{app.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
	{app.ErrProductUnavailable, http.StatusConflict, "PRODUCT_UNAVAILABLE"},
	{app.ErrTitleRequired, http.StatusBadRequest, "PRODUCT_TITLE_REQUIRED"},
	{app.ErrInvalidProductKind, http.StatusBadRequest, "PRODUCT_INVALID_KIND"},
	{app.ErrInvalidPrice, http.StatusBadRequest, "PRODUCT_INVALID_PRICE"},
	{app.ErrInvalidStock, http.StatusBadRequest, "PRODUCT_INVALID_STOCK"},
	{app.ErrEbookFileRequired, http.StatusBadRequest, "PRODUCT_FILE_REQUIRED"},
	{app.ErrUnsupportedFile, http.StatusBadRequest, "PRODUCT_UNSUPPORTED_FILE_TYPE"},
	{app.ErrNotPurchased, http.StatusForbidden, "LIBRARY_NOT_PURCHASED"},

	{app.ErrInvalidQuantity, http.StatusBadRequest, "CART_INVALID_QUANTITY"},
	{app.ErrEmptyCart, http.StatusBadRequest, "CART_EMPTY"},
	{app.ErrInvalidPayment, http.StatusBadRequest, "ORDER_INVALID_PAYMENT_METHOD"},
	{app.ErrShippingRequired, http.StatusBadRequest, "ORDER_SHIPPING_REQUIRED"},
	{app.ErrWalletRequired, http.StatusBadRequest, "ORDER_WALLET_REQUIRED"},
	{app.ErrInsufficientStock, http.StatusConflict, "ORDER_INSUFFICIENT_STOCK"},
	{app.ErrInsufficientFunds, http.StatusConflict, "WALLET_INSUFFICIENT_FUNDS"},
	{app.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{app.ErrInvalidOrderStatus, http.StatusBadRequest, "ORDER_INVALID_STATUS"},
	{app.ErrInvalidTransition, http.StatusConflict, "ORDER_INVALID_TRANSITION"},

	{app.ErrBookNotFound, http.StatusNotFound, "EXCHANGE_BOOK_NOT_FOUND"},
	{app.ErrInvalidCondition, http.StatusBadRequest, "EXCHANGE_INVALID_CONDITION"},
	{app.ErrAuthorRequired, http.StatusBadRequest, "EXCHANGE_AUTHOR_REQUIRED"},
	{app.ErrDepositNotPending, http.StatusConflict, "EXCHANGE_DEPOSIT_DECIDED"},
	{app.ErrBookNotAvailable, http.StatusConflict, "EXCHANGE_BOOK_UNAVAILABLE"},
	{app.ErrOwnBook, http.StatusBadRequest, "EXCHANGE_OWN_BOOK"},
	{app.ErrInvalidExchangeType, http.StatusBadRequest, "EXCHANGE_INVALID_TYPE"},
	{app.ErrNotForSale, http.StatusBadRequest, "EXCHANGE_NOT_FOR_SALE"},
	{app.ErrDuplicateRequest, http.StatusConflict, "EXCHANGE_DUPLICATE_REQUEST"},
	{app.ErrOverdueLoans, http.StatusForbidden, "EXCHANGE_OVERDUE_LOANS"},
	{app.ErrRequestNotFound, http.StatusNotFound, "EXCHANGE_REQUEST_NOT_FOUND"},
	{app.ErrRequestNotPending, http.StatusConflict, "EXCHANGE_REQUEST_DECIDED"},
	{app.ErrNotActiveLoan, http.StatusConflict, "EXCHANGE_NOT_ACTIVE_LOAN"},

	{app.ErrInvalidAmount, http.StatusBadRequest, "WALLET_INVALID_AMOUNT"},
	{app.ErrRecipientNotFound, http.StatusNotFound, "WALLET_RECIPIENT_NOT_FOUND"},
	{app.ErrSelfTransfer, http.StatusBadRequest, "WALLET_SELF_TRANSFER"},
	{app.ErrTransferNotFound, http.StatusNotFound, "WALLET_TRANSFER_NOT_FOUND"},
	{app.ErrTransferNotPending, http.StatusConflict, "WALLET_TRANSFER_DECIDED"},

	{app.ErrNotificationNotFound, http.StatusNotFound, "NOTIFICATION_NOT_FOUND"},
	{app.ErrInvalidStatusFilter, http.StatusBadRequest, "REQUEST_INVALID_FILTER"},
	{errInvalidForm, http.StatusBadRequest, "PRODUCT_INVALID_UPLOAD_FORM"},
}

// writeAppError maps application errors to a status and stable code.
// Anything unrecognised is logged and reported as an internal error.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range appErrors {
		if errors.Is(err, m.err) {
			writeErrorCode(w, m.status, m.code, err.Error())
			return
		}
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	logError(r, "request failed", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, errorCode(status, msg), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case "forbidden":
		return "AUTH_FORBIDDEN"
	case "too many requests":
		return "RATE_LIMITED"
	case "invalid json body":
		return "REQUEST_INVALID_JSON"
	case "invalid form data":
		return "PRODUCT_INVALID_UPLOAD_FORM"
	case "file too large":
		return "PRODUCT_FILE_TOO_LARGE"
	case "realtime unavailable":
		return "NOTIFICATION_STREAM_UNAVAILABLE"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
