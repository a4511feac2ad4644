package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrorAuthRecoveryFailed = "AUTH_RECOVERY_FAILED"
	ErrorRouteNotFound      = "ROUTE_NOT_FOUND"
	ErrorRateLimited        = "RATE_LIMITED"
	ErrorServerError        = "SERVER_ERROR"
	ErrorTimeout            = "TIMEOUT"
	ErrorNetworkError       = "NETWORK_ERROR"
	ErrorAlignmentFailed    = "ALIGNMENT_FAILED"
	ErrorSyncFailed         = "SYNC_FAILED"
	ErrorRequestRejected    = "REQUEST_REJECTED"
	ErrorBadInput           = "BAD_INPUT"
	ErrorInternal           = "INTERNAL"
)

func engineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEngineErrorEnvelope(richErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapEngineError(err, goerrors.CategoryExternal, ErrorTimeout, "request timed out")
	}
	if errors.Is(err, ErrUserIDRequired) || errors.Is(err, ErrInvalidPlan) {
		return wrapEngineError(err, goerrors.CategoryBadInput, ErrorBadInput, err.Error())
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not authenticated"), strings.Contains(msg, "no session"):
		return wrapEngineError(err, goerrors.CategoryAuth, ErrorNotAuthenticated, err.Error())
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return wrapEngineError(err, goerrors.CategoryExternal, ErrorTimeout, err.Error())
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return wrapEngineError(err, goerrors.CategoryRateLimit, ErrorRateLimited, err.Error())
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return wrapEngineError(err, goerrors.CategoryExternal, ErrorNetworkError, err.Error())
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return wrapEngineError(err, goerrors.CategoryBadInput, ErrorBadInput, err.Error())
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureEngineErrorEnvelope(mapped)
}

func newEngineError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureEngineErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

// wrapEngineError re-tags err with a taxonomy code. goerrors.Wrap clones an
// existing *goerrors.Error and keeps its category and code, so both are reset.
func wrapEngineError(err error, category goerrors.Category, textCode string, message string) *goerrors.Error {
	wrapped := goerrors.Wrap(err, category, message)
	if wrapped == nil {
		return newEngineError(message, category, textCode)
	}
	wrapped.Category = category
	wrapped.TextCode = textCode
	wrapped.Code = 0
	return ensureEngineErrorEnvelope(wrapped)
}

func ensureEngineErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultEngineTextCode(err.Category)
	}
	if err.Code == 0 {
		err.Code = engineHTTPStatus(err.TextCode, err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultEngineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorRouteNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorNotAuthenticated
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorServerError
	case goerrors.CategoryOperation:
		return ErrorSyncFailed
	default:
		return ErrorInternal
	}
}

func engineHTTPStatus(textCode string, category goerrors.Category) int {
	switch textCode {
	case ErrorTimeout:
		return http.StatusGatewayTimeout
	case ErrorServerError, ErrorNetworkError, ErrorAlignmentFailed:
		return http.StatusBadGateway
	case ErrorSyncFailed:
		return http.StatusInternalServerError
	}
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HasTextCode reports whether err carries the given taxonomy code anywhere in
// its chain.
func HasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for current := richErr; current != nil; {
		if current.TextCode == textCode {
			return true
		}
		var next *goerrors.Error
		if current.Source == nil || !goerrors.As(current.Source, &next) {
			return false
		}
		current = next
	}
	return false
}

// isTransientAlignmentError classifies bind failures worth one retry.
func isTransientAlignmentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if goerrors.IsRetryableError(err) {
		return true
	}
	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) && retryable.IsRetryable() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"already in progress", "concurrent", "temporarily", "timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	if e == nil || e.errorMapper == nil {
		return err
	}
	mapped := e.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
