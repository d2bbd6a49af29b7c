package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"guardian.org/internal/auth"
)

// Response codes carried in the envelope's code field.
const (
	CodeSuccess             = 200
	CodeInternal            = 17000
	CodeValidation          = 17001
	CodeAuthFailed          = 17002
	CodeTokenExpired        = 17003
	CodePermissionDenied    = 17004
	CodeRateLimited         = 17006
	CodeInvalidTwoFactor    = 17008
	CodeTwoFactorNotEnabled = 17009
	CodeTwoFactorEnabled    = 17010
	CodeAccountLocked       = 17011
	CodeAccountDisabled     = 17012
)

type envelope struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Code:      CodeSuccess,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status, code int, msg string) {
	writeJSON(w, status, envelope{
		Code:      code,
		Msg:       msg,
		Timestamp: time.Now().UnixMilli(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// handleAuthError maps auth sentinels onto HTTP status and envelope code.
// Internal details never reach the client.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="guardian"`)
	}
	writeError(w, r, status, code, msg)
}

func classify(err error) (status, code int, msg string) {
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, "too many requests"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired, "token expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized, CodeAuthFailed, "token revoked"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, CodeAuthFailed, "invalid token"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeAuthFailed, "invalid username or password"
	case errors.Is(err, auth.ErrTwoFactorRequired):
		return http.StatusUnauthorized, CodeInvalidTwoFactor, "two-factor code required"
	case errors.Is(err, auth.ErrInvalidTwoFactorCode):
		return http.StatusUnauthorized, CodeInvalidTwoFactor, "invalid two-factor code"
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied, "permission denied"
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, CodeAccountDisabled, "account disabled"
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusLocked, CodeAccountLocked, "account locked"
	case errors.Is(err, auth.ErrTwoFactorNotEnabled):
		return http.StatusBadRequest, CodeTwoFactorNotEnabled, "two-factor not enabled"
	case errors.Is(err, auth.ErrTwoFactorAlreadyEnabled):
		return http.StatusConflict, CodeTwoFactorEnabled, "two-factor already enabled"
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, CodeValidation, err.Error()
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, CodeValidation, "admin not found"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
