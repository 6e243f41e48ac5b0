// Package errors carries service errors across the HTTP boundary: a stable
// code, a message safe to show callers and the status to answer with.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

// ErrorCode is the machine-readable error identifier returned to clients.
type ErrorCode string

const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeInvalidFormat      ErrorCode = "invalid_format"
	CodeNotFound           ErrorCode = "not_found"
	CodeConfiguration      ErrorCode = "configuration_error"
	CodeAlreadyRevealed    ErrorCode = "already_revealed"
	CodeAlreadyClaimed     ErrorCode = "already_claimed"
	CodeNotRevealed        ErrorCode = "not_revealed"
	CodeNotWinner          ErrorCode = "not_winner"
	CodeIntegrity          ErrorCode = "integrity_error"
	CodeSignerUnavailable  ErrorCode = "signer_unavailable"
	CodeVerificationFailed ErrorCode = "signature_verification_failed"
	CodeRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	CodeInternal           ErrorCode = "internal_error"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
)

// ServiceError is an error with an HTTP rendering.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	// NoOp marks a state error that leaves the card unchanged, so the caller
	// may safely treat a retry as already done.
	NoOp bool  `json:"no_op,omitempty"`
	Err  error `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e with key set in Details.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(status int, code ErrorCode, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest reports a malformed request.
func BadRequest(message string) *ServiceError {
	return newError(http.StatusBadRequest, CodeBadRequest, message, nil)
}

// InvalidFormat reports a request field that does not parse.
func InvalidFormat(field, expected string) *ServiceError {
	return newError(http.StatusBadRequest, CodeInvalidFormat, fmt.Sprintf("invalid %s", field), nil).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

// NotFound reports a missing resource.
func NotFound(resource string, err error) *ServiceError {
	return newError(http.StatusNotFound, CodeNotFound, resource+" not found", err)
}

// Internal reports an unexpected failure. The cause is not shown to callers.
func Internal(message string, err error) *ServiceError {
	return newError(http.StatusInternalServerError, CodeInternal, message, err)
}

// Unavailable reports a missing dependency.
func Unavailable(message string, err error) *ServiceError {
	return newError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, err)
}

// RateLimitExceeded reports a throttled client.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// FromDomain maps card errors to service errors. Errors it does not know
// become Internal.
func FromDomain(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}
	switch {
	case stderrors.Is(err, card.ErrCardNotFound):
		return NotFound("card", err)
	case stderrors.Is(err, card.ErrAlreadyRevealed):
		se := newError(http.StatusConflict, CodeAlreadyRevealed, "card already revealed", err)
		se.NoOp = true
		return se
	case stderrors.Is(err, card.ErrAlreadyClaimed):
		se := newError(http.StatusConflict, CodeAlreadyClaimed, "prize already claimed", err)
		se.NoOp = true
		return se
	case stderrors.Is(err, card.ErrNotRevealed):
		return newError(http.StatusConflict, CodeNotRevealed, "card has not been revealed", err)
	case stderrors.Is(err, card.ErrNotWinner):
		return newError(http.StatusConflict, CodeNotWinner, "card has no prize to claim", err)
	case stderrors.Is(err, card.ErrConfiguration), stderrors.Is(err, card.ErrUnintendedMatch):
		return newError(http.StatusUnprocessableEntity, CodeConfiguration, "game configuration cannot produce this card", err)
	case stderrors.Is(err, card.ErrProvisioningInconsistency), stderrors.Is(err, card.ErrInconsistentGrid):
		return newError(http.StatusInternalServerError, CodeIntegrity, "card data is inconsistent", err)
	case stderrors.Is(err, card.ErrSignerUnavailable):
		return newError(http.StatusServiceUnavailable, CodeSignerUnavailable, "claim signer is unavailable", err)
	case stderrors.Is(err, card.ErrSignatureVerificationFailed):
		return newError(http.StatusInternalServerError, CodeVerificationFailed, "claim signature failed verification", err)
	default:
		return Internal("internal error", err)
	}
}
