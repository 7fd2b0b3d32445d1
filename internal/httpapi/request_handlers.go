package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatepass.org/internal/clearance"
)

type createRequestRequest struct {
	OrganizationID  string              `json:"organization_id"`
	Visitor         clearance.Visitor   `json:"visitor"`
	StartDate       time.Time           `json:"start_date"`
	EndDate         time.Time           `json:"end_date"`
	Description     string              `json:"description"`
	PhoneNumber     string              `json:"phone_number"`
	HasAsset        clearance.AssetKind `json:"has_asset"`
	AssetIdentifier string              `json:"asset_identifier"`
	NeedsEscort     bool                `json:"needs_escort"`
}

type updateRequestRequest struct {
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	Description     *string    `json:"description"`
	PhoneNumber     *string    `json:"phone_number"`
	AssetIdentifier *string    `json:"asset_identifier"`
	NeedsEscort     *bool      `json:"needs_escort"`
}

type addCommentRequest struct {
	Content string `json:"content"`
}

type bulkStatusRequest struct {
	Status clearance.Status `json:"status"`
}

type bulkStatusResponse struct {
	Request      *clearance.Request `json:"request"`
	ChangedSteps []string           `json:"changed_steps"`
	Failures     []string           `json:"failures,omitempty"`
}

func (a *API) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRequest(w, r)
	case http.MethodGet:
		a.searchRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var req createRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.ensurePermissions(w, r, req.OrganizationID, false, clearance.PermCreateRequests) {
		return
	}
	created, err := a.svc.CreateRequest(r.Context(), clearance.CreateRequestInput{
		OrganizationID:  req.OrganizationID,
		RequestorID:     userID,
		Visitor:         req.Visitor,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Description:     req.Description,
		PhoneNumber:     req.PhoneNumber,
		HasAsset:        req.HasAsset,
		AssetIdentifier: req.AssetIdentifier,
		NeedsEscort:     req.NeedsEscort,
	})
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	a.audit(r.Context(), "request.create", map[string]any{
		"request_id":      created.ID,
		"organization_id": created.OrganizationID,
		"visitor_id":      created.VisitorID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/requests/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) searchRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	view := clearance.View(strings.TrimSpace(q.Get("view")))
	if view == "" {
		view = clearance.ViewAll
	}
	page := clearance.Page{}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		page.Limit = v
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		page.Offset = v
	}

	items, err := a.svc.SearchRequests(r.Context(), userID, view, q.Get("q"), page)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleRequestScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/requests/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	requestID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleRequestResource(w, r, requestID)
	case len(parts) == 2 && parts[1] == "comments":
		a.handleRequestComments(w, r, requestID)
	case len(parts) == 2 && parts[1] == "bulk-status":
		a.handleRequestBulkStatus(w, r, requestID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request, requestID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.currentUser(w, r); !ok {
			return
		}
		req, err := a.svc.FindRequest(r.Context(), requestID)
		if err != nil {
			handleClearanceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case http.MethodPatch:
		if _, ok := a.currentUser(w, r); !ok {
			return
		}
		var body updateRequestRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req, err := a.svc.UpdateRequest(r.Context(), requestID, clearance.RequestUpdate{
			StartDate:       body.StartDate,
			EndDate:         body.EndDate,
			Description:     body.Description,
			PhoneNumber:     body.PhoneNumber,
			AssetIdentifier: body.AssetIdentifier,
			NeedsEscort:     body.NeedsEscort,
		})
		if err != nil {
			handleClearanceError(w, r, err)
			return
		}
		a.audit(r.Context(), "request.update", map[string]any{"request_id": req.ID})
		writeJSON(w, http.StatusOK, req)
	case http.MethodDelete:
		req, err := a.svc.FindRequest(r.Context(), requestID)
		if err != nil {
			handleClearanceError(w, r, err)
			return
		}
		if !a.ensurePermissions(w, r, req.OrganizationID, false, clearance.PermDeleteRequest) {
			return
		}
		if err := a.svc.DeleteRequest(r.Context(), requestID); err != nil {
			handleClearanceError(w, r, err)
			return
		}
		a.audit(r.Context(), "request.delete", map[string]any{"request_id": requestID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRequestComments(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var body addCommentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.svc.AddComment(r.Context(), requestID, userID, body.Content)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	a.audit(r.Context(), "request.comment.add", map[string]any{"request_id": req.ID})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) handleRequestBulkStatus(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var body bulkStatusRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, changed, err := a.svc.BulkChangeStatus(r.Context(), userID, requestID, body.Status)
	if err != nil && req == nil {
		handleClearanceError(w, r, err)
		return
	}
	resp := bulkStatusResponse{Request: req, ChangedSteps: changed}
	if err != nil {
		// Partial failure: completed transitions stand, the rest is reported.
		resp.Failures = strings.Split(err.Error(), "\n")
	}
	a.audit(r.Context(), "request.bulk_status", map[string]any{
		"request_id": requestID,
		"status":     string(body.Status),
		"changed":    len(changed),
	})
	writeJSON(w, http.StatusOK, resp)
}
