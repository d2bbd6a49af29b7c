package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"guardian.org/internal/audit"
	"guardian.org/internal/auth"
)

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_fa_code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type resetPasswordRequest struct {
	Username    string `json:"username"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type profileResponse struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	IsSuperAdmin     bool       `json:"is_super_admin"`
	Status           string     `json:"status"`
	TwoFactorEnabled bool       `json:"two_fa_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	pair, err := a.accounts.Login(r.Context(), auth.LoginRequest{
		Username:      username,
		Password:      req.Password,
		TwoFactorCode: strings.TrimSpace(req.TwoFactorCode),
	})
	if err != nil {
		event := "auth.login.failed"
		if errors.Is(err, auth.ErrAccountLocked) {
			event = "auth.login.locked"
		}
		_ = audit.LogEvent(r.Context(), event, map[string]any{
			"username": username,
			"reason":   errorReason(err),
		})
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{"username": username})
	writeSuccess(w, r, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	token, err := a.tokens.RotateAccess(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, r, token)
}

// handleLogout revokes the caller's refresh token. Tokens belonging to
// another admin are rejected.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	claims, err := a.tokens.Verify(refresh)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	adminID, _ := auth.AdminIDFromContext(r.Context())
	if claims.Subject != adminID {
		handleAuthError(w, r, auth.ErrPermissionDenied)
		return
	}
	if err := a.tokens.Revoke(r.Context(), refresh); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"token_id": claims.ID})
	writeSuccess(w, r, nil)
}

func (a *API) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	adminID, _ := auth.AdminIDFromContext(r.Context())
	enrollment, err := a.accounts.SetupTwoFactor(r.Context(), adminID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.2fa.enabled", nil)
	writeSuccess(w, r, enrollment)
}

func (a *API) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	adminID, _ := auth.AdminIDFromContext(r.Context())
	if err := a.accounts.VerifyTwoFactor(r.Context(), adminID, strings.TrimSpace(req.Code)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, r, map[string]bool{"verified": true})
}

func (a *API) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	adminID, _ := auth.AdminIDFromContext(r.Context())
	if err := a.accounts.DisableTwoFactor(r.Context(), adminID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.2fa.disabled", nil)
	writeSuccess(w, r, nil)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	adminID, _ := auth.AdminIDFromContext(r.Context())
	if err := a.accounts.ChangePassword(r.Context(), adminID, req.OldPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	writeSuccess(w, r, nil)
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if err := a.accounts.ResetPassword(r.Context(), username, strings.TrimSpace(req.Code), req.NewPassword); err != nil {
		_ = audit.LogEvent(r.Context(), "auth.password.reset_failed", map[string]any{
			"username": username,
			"reason":   errorReason(err),
		})
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", map[string]any{"username": username})
	writeSuccess(w, r, nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	adminID, _ := auth.AdminIDFromContext(r.Context())
	admin, err := a.accounts.Profile(r.Context(), adminID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, r, profileResponse{
		ID:               admin.ID,
		Username:         admin.Username,
		IsSuperAdmin:     admin.IsSuperAdmin,
		Status:           string(admin.Status),
		TwoFactorEnabled: admin.TwoFactorEnabled(),
		LastLoginAt:      admin.LastLoginAt,
		CreatedAt:        admin.CreatedAt,
	})
}

func errorReason(err error) string {
	_, _, msg := classify(err)
	return msg
}
