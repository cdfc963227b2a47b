package app

import (
	"errors"

	"ghazal/pkg/store"
)

var (
	// ErrInvalidCredentials is shown to end users for unknown email, wrong
	// password and disabled accounts alike.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	// ErrUserDisabled is returned by UserFromToken for disabled accounts.
	ErrUserDisabled = errors.New("user disabled")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrInvalidEmail             = errors.New("invalid email address")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrInvalidToken             = errors.New("invalid or expired token")
	ErrUserNotFound             = errors.New("user not found")
	ErrInvalidRole              = errors.New("invalid role")
	ErrInvalidUserStatus        = errors.New("status must be active or disabled")
	ErrInvalidStatusFilter      = errors.New("invalid status filter")
	ErrForbidden                = errors.New("forbidden")

	ErrProductNotFound     = errors.New("product not found")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrTitleRequired       = errors.New("title required")
	ErrInvalidProductKind  = errors.New("kind must be physical or ebook")
	ErrInvalidPrice        = errors.New("price must be zero or positive with at most 2 decimals")
	ErrInvalidStock        = errors.New("stock must not be negative")
	ErrEbookFileRequired   = errors.New("ebook file required")
	ErrUnsupportedFile     = errors.New("unsupported file type")
	ErrNotPurchased        = errors.New("ebook not purchased")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidPayment      = errors.New("payment method must be wallet or cash_on_delivery")
	ErrShippingRequired    = errors.New("shipping address required for physical items")
	ErrWalletRequired      = errors.New("ebook-only orders must be paid from the wallet")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidOrderStatus  = errors.New("invalid order status")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrInsufficientStock   = store.ErrInsufficientStock
	ErrInsufficientFunds   = store.ErrInsufficientFunds
	ErrBookNotFound        = errors.New("book not found")
	ErrInvalidCondition    = errors.New("invalid book condition")
	ErrAuthorRequired      = errors.New("author required")
	ErrDepositNotPending   = errors.New("deposit already decided")
	ErrBookNotAvailable    = errors.New("book not available")
	ErrOwnBook             = errors.New("cannot request your own book")
	ErrInvalidExchangeType = errors.New("type must be borrow, purchase or exchange")
	ErrNotForSale          = errors.New("book is loan-only")
	ErrDuplicateRequest    = errors.New("you already have a pending request for this book")
	ErrOverdueLoans        = errors.New("return your overdue books before requesting another")
	ErrRequestNotFound     = errors.New("exchange request not found")
	ErrRequestNotPending   = errors.New("exchange request already decided")
	ErrNotActiveLoan       = errors.New("only active loans can be returned")
	ErrInvalidAmount       = errors.New("amount must be positive with at most 2 decimals")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrSelfTransfer        = errors.New("cannot transfer to yourself")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrTransferNotPending  = errors.New("transfer already decided")

	ErrNotificationNotFound = errors.New("notification not found")
)
