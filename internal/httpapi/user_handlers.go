package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatepass.org/internal/auth"
	"gatepass.org/internal/clearance"
)

type createUserRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	OrganizationID string `json:"organization_id"`
	IsAdmin        bool   `json:"is_admin"`
}

type setPermissionsRequest struct {
	Grants []clearance.Grant `json:"grants"`
}

type permissionCheckRequest struct {
	UserID         string                 `json:"user_id"`
	Permissions    []clearance.Permission `json:"permissions"`
	OrganizationID string                 `json:"organization_id"`
	MatchAny       bool                   `json:"match_any"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureAdmin(w, r) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.CreateUser(r.Context(), clearance.UserInput{
		Email:          req.Email,
		Password:       req.Password,
		OrganizationID: req.OrganizationID,
		IsAdmin:        req.IsAdmin,
	})
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.create", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUserResource(w, r, userID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	callerID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	// Operators may read their own account; anything else takes the
	// permission-management grant or admin.
	if callerID != userID && !auth.IsAdminFromContext(r.Context()) {
		if !a.ensurePermissions(w, r, "", true, clearance.PermEditUserPermissions) {
			return
		}
	}
	user, err := a.svc.GetUser(r.Context(), userID)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.currentUser(w, r); !ok {
		return
	}
	var req setPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// The caller must be able to manage permissions for every organization a
	// grant touches.
	if !auth.IsAdminFromContext(r.Context()) {
		for _, g := range req.Grants {
			if !a.ensurePermissions(w, r, g.OrganizationID, false, clearance.PermEditUserPermissions) {
				return
			}
		}
		if len(req.Grants) == 0 {
			if !a.ensurePermissions(w, r, "", true, clearance.PermEditUserPermissions) {
				return
			}
		}
	}
	user, err := a.svc.SetPermissions(r.Context(), userID, req.Grants)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.permissions.update", map[string]any{
		"user_id": userID,
		"grants":  len(req.Grants),
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	callerID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req permissionCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = callerID
	}
	allowed, err := a.svc.HasPermission(r.Context(), userID, req.Permissions, req.OrganizationID, req.MatchAny)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}
