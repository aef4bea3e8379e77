package app

import (
	"fmt"
	"net/http"
	"time"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED",
		"Provide the manage key via Bearer token, X-API-Key header, or ?key= query param", nil)
}

// lockConflict is recoverable: the caller should retry after the blocking
// holder releases or expires.
func lockConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "LOCK_CONFLICT", message, nil)
}

func rateLimited(retryAfter time.Duration) *DomainError {
	return domainError(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
		"Rate limit exceeded, try again later",
		map[string]any{"retry_after_secs": int(retryAfter.Seconds())})
}
