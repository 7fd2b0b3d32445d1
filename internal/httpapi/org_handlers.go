package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatepass.org/internal/auth"
	"gatepass.org/internal/clearance"
)

type createOrganizationRequest struct {
	Name              string `json:"name"`
	ShowRequests      *bool  `json:"show_requests"`
	CanCreateRequests *bool  `json:"can_create_requests"`
}

type setWorkflowRequest struct {
	Steps []clearance.WorkflowStep `json:"steps"`
}

func (a *API) ensureAdmin(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := a.currentUser(w, r); !ok {
		return false
	}
	if !auth.IsAdminFromContext(r.Context()) {
		writeError(w, r, http.StatusForbidden, "admin access required")
		return false
	}
	return true
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOrganization(w, r)
	case http.MethodGet:
		a.listOrganizations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	if !a.ensureAdmin(w, r) {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrganization(r.Context(), clearance.OrganizationInput{
		Name:              req.Name,
		ShowRequests:      req.ShowRequests,
		CanCreateRequests: req.CanCreateRequests,
	})
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	a.audit(r.Context(), "organization.create", map[string]any{
		"organization_id": org.ID,
		"name":            org.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.currentUser(w, r); !ok {
		return
	}
	orgs, err := a.svc.ListOrganizations(r.Context())
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orgs})
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleOrganizationResource(w, r, orgID)
	case len(parts) == 2 && parts[1] == "workflow":
		a.handleOrganizationWorkflow(w, r, orgID)
	case len(parts) == 2 && parts[1] == "users":
		a.handleOrganizationUsers(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrganizationResource(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.currentUser(w, r); !ok {
			return
		}
		org, err := a.svc.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleClearanceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleOrganizationWorkflow(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.currentUser(w, r); !ok {
			return
		}
		steps, err := a.svc.GetWorkflow(r.Context(), orgID)
		if err != nil {
			handleClearanceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
	case http.MethodPut:
		if !a.ensurePermissions(w, r, orgID, false, clearance.PermEditWorkflow) {
			return
		}
		var req setWorkflowRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.svc.SetWorkflow(r.Context(), orgID, req.Steps)
		if err != nil {
			handleClearanceError(w, r, err)
			return
		}
		if org == nil {
			// Absent steps leave the template untouched.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		a.audit(r.Context(), "organization.workflow.update", map[string]any{
			"organization_id": orgID,
			"steps":           len(org.Workflow),
		})
		writeJSON(w, http.StatusOK, org)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleOrganizationUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, orgID, true, clearance.PermEditUserPermissions, clearance.PermViewRequests) {
		return
	}
	org, err := a.svc.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	users, err := a.svc.ListUsersByOrganization(r.Context(), org.ID)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}
