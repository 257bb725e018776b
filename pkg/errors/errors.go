package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    int    // Ledger error code, see the constants below
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

// Validation errors: 1xxx
const (
	ErrCodeInvalidName        = 1001
	ErrCodeInvalidDuration    = 1002
	ErrCodeInvalidBeneficiary = 1003
	ErrCodeInvalidContentHash = 1004
	ErrCodeBidTooLow          = 1005
	ErrCodeInvalidBidder      = 1006
	ErrCodeBadMessageFormat   = 1007
	ErrCodeUnknownMessageType = 1008
)

// Lifecycle errors: 2xxx
const (
	ErrCodeNotFound           = 2001
	ErrCodeAuctionClosed      = 2002
	ErrCodeAlreadyClosed      = 2003
	ErrCodeTooEarly           = 2004
	ErrCodeAuctionNotYetEnded = 2005
	ErrCodeReentrant          = 2006
)

// Fund-transfer errors: 3xxx
const (
	ErrCodeInsufficientFunds = 3001
	ErrCodeTransferFailed    = 3002
	// The paying party does not hold enough to back a bid.
	ErrCodeInsufficientBalance = 3003
)

const (
	ErrCodeUnauthorized   = 401
	ErrCodeRateLimited    = 429
	ErrCodeInternalServer = 500
)

// Sentinels for errors.Is. They compare by code only.
var (
	ErrInvalidName        = New(ErrCodeInvalidName, "auction name must not be empty")
	ErrInvalidDuration    = New(ErrCodeInvalidDuration, "auction duration must be positive")
	ErrInvalidBeneficiary = New(ErrCodeInvalidBeneficiary, "beneficiary must not be the null address")
	ErrInvalidContentHash = New(ErrCodeInvalidContentHash, "content hash must not be empty")
	ErrBidTooLow          = New(ErrCodeBidTooLow, "bid too low")
	ErrInvalidBidder      = New(ErrCodeInvalidBidder, "bidder must not be the null address")
	ErrNotFound           = New(ErrCodeNotFound, "auction not found")
	ErrAuctionClosed      = New(ErrCodeAuctionClosed, "auction is closed for bidding")
	ErrAlreadyClosed      = New(ErrCodeAlreadyClosed, "auction already closed")
	ErrTooEarly           = New(ErrCodeTooEarly, "auction cannot be closed yet")
	ErrAuctionNotYetEnded = New(ErrCodeAuctionNotYetEnded, "auction has not ended")
	ErrReentrant          = New(ErrCodeReentrant, "reentrant call into the ledger")
	ErrInsufficientFunds  = New(ErrCodeInsufficientFunds, "ledger holds less than the winning bid")
	ErrTransferFailed     = New(ErrCodeTransferFailed, "payout transfer failed")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "unauthorized")
	ErrBadMessageFormat   = New(ErrCodeBadMessageFormat, "invalid message format")
	ErrUnknownMessageType = New(ErrCodeUnknownMessageType, "unknown message type")
	ErrRateLimited        = New(ErrCodeRateLimited, "rate limit exceeded")
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindLifecycle
	KindFunds
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindLifecycle:
		return "lifecycle"
	case KindFunds:
		return "funds"
	default:
		return "internal"
	}
}

// Kind classifies an error code into the ledger taxonomy.
func Kind(code int) ErrorKind {
	switch {
	case code >= 1000 && code < 2000:
		return KindValidation
	case code >= 2000 && code < 3000:
		return KindLifecycle
	case code >= 3000 && code < 4000:
		return KindFunds
	default:
		return KindInternal
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != 0 && t.Code == e.Code
}

// HTTPStatus maps the error onto a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInsufficientFunds, ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case ErrCodeTransferFailed:
		return http.StatusBadGateway
	}
	switch Kind(e.Code) {
	case KindValidation:
		return http.StatusBadRequest
	case KindLifecycle:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) ToJSON() string {
	body := struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{"error", e.Code, Kind(e.Code).String(), e.Error()}
	raw, err := json.Marshal(body)
	if err != nil {
		return `{"type": "error", "message": "Internal server error"}`
	}
	return string(raw)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Code: ErrCodeInternalServer, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf builds an error with the code of sentinel and a formatted message.
func Newf(sentinel *AppError, format string, args ...any) *AppError {
	return &AppError{Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}

// WithCause returns a copy of sentinel that wraps err.
func WithCause(sentinel *AppError, err error) *AppError {
	return &AppError{Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// From extracts the *AppError from err, falling back to an internal error.
func From(err error) *AppError {
	var target *AppError
	if stderrors.As(err, &target) {
		return target
	}
	return Wrap(err, "internal error")
}
