// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"courtbot/internal/errs"
)

// Error codes carried in the "error" field of a failure body.
const (
	ErrNotFound      = "not_found"
	ErrBadRequest    = "bad_request"
	ErrValidation    = "validation_error"
	ErrInternalError = "internal_error"
	ErrLoginFailed   = "login_failed"
	ErrPortalTimeout = "portal_timeout"
	ErrCancelFailed  = "cancel_failed"
	ErrAborted       = "aborted"
)

// Problem is the JSON body of every failed request.
type Problem struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError answers status with a Problem body.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithDetails(w, status, code, message, nil)
}

func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Code: code, Message: message, Details: details})
}

// Classify maps a portal operation error to a status and an error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrReservationNotListed):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, errs.ErrAuthentication), errors.Is(err, errs.ErrSessionExpired):
		return http.StatusBadGateway, ErrLoginFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errs.ErrNavigationTimeout):
		return http.StatusGatewayTimeout, ErrPortalTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrAborted
	case errors.Is(err, errs.ErrCancellation):
		return http.StatusBadGateway, ErrCancelFailed
	}
	return http.StatusInternalServerError, ErrInternalError
}

// WriteEngineError answers a failed portal operation. Server-side failures
// are logged with the request path.
func WriteEngineError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Warn("portal operation failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
	}
	WriteError(w, status, code, err.Error())
}

// ErrorRecovery answers 500 when a handler panics.
func ErrorRecovery(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.Error("panic recovered",
						zap.Any("panic", v),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()))
					WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
