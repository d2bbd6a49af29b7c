package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"guardian.org/internal/audit"
)

type permissionView struct {
	ID           string  `json:"id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	ResourceType string  `json:"resource_type"`
	HTTPMethod   *string `json:"http_method,omitempty"`
	ResourcePath *string `json:"resource_path,omitempty"`
	ParentID     *string `json:"parent_id,omitempty"`
}

func (a *API) handleAdminPermissions(w http.ResponseWriter, r *http.Request) {
	adminID := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, err := a.accounts.Profile(r.Context(), adminID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	perms, err := a.permissions.EffectivePermissions(r.Context(), adminID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, permissionView{
			ID:           p.ID,
			Code:         p.Code,
			Name:         p.Name,
			ResourceType: p.ResourceType,
			HTTPMethod:   p.HTTPMethod,
			ResourcePath: p.ResourcePath,
			ParentID:     p.ParentID,
		})
	}
	writeSuccess(w, r, views)
}

func (a *API) handleAdminUnlock(w http.ResponseWriter, r *http.Request) {
	adminID := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := a.accounts.Unlock(r.Context(), adminID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.unlocked", map[string]any{"target_admin_id": adminID})
	writeSuccess(w, r, nil)
}
