package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Producer Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Endpoint Configuration (CFG) ----

func ErrMissingSecret() *AppError {
	return New("CFG_001", "Endpoint has no signing secret configured", http.StatusUnprocessableEntity)
}

func ErrMalformedURL(url string) *AppError {
	return New("CFG_002", fmt.Sprintf("Endpoint URL is malformed: %s", url), http.StatusUnprocessableEntity)
}

func ErrSecretDecryption(err error) *AppError {
	return Wrap("CFG_003", "Endpoint signing secret cannot be decrypted", http.StatusUnprocessableEntity, err)
}

// ---- Dispatch & Registry (DSP) ----

func ErrRegistryRead(err error) *AppError {
	return Wrap("DSP_001", "Failed to read endpoint registry", http.StatusInternalServerError, err)
}

func ErrEnqueue(err error) *AppError {
	return Wrap("DSP_002", "Failed to enqueue delivery attempt", http.StatusInternalServerError, err)
}

func ErrInvalidEvent(message string) *AppError {
	return New("DSP_003", message, http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("DSP_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a DSP_003-style validation error.
func Validation(message string) *AppError {
	return New("DSP_003", message, http.StatusBadRequest)
}
