package httpapi

import (
	"net/http"
	"strings"

	"gatepass.org/internal/clearance"
)

type stepStatusRequest struct {
	Status             clearance.Status `json:"status"`
	ConfirmationNumber *string          `json:"confirmation_number"`
	NeedsEscort        *bool            `json:"needs_escort"`
	NeedsTag           *bool            `json:"needs_tag"`
	SecurityClearance  *int             `json:"security_clearance"`
}

func (a *API) handleStepScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/steps/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "status" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	a.changeStepStatus(w, r, parts[0])
}

func (a *API) changeStepStatus(w http.ResponseWriter, r *http.Request, stepID string) {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	var body stepStatusRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req, err := a.svc.FindRequestByStep(r.Context(), stepID)
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	step := findStep(req, stepID)
	if step == nil {
		writeError(w, r, http.StatusNotFound, "step not found")
		return
	}
	if !a.ensurePermissions(w, r, step.OrganizationID, false, approvalPermission(req, step)) {
		return
	}

	updated, err := a.svc.ChangeStepStatus(r.Context(), stepID, body.Status, userID, clearance.StepUpdate{
		ConfirmationNumber: body.ConfirmationNumber,
		NeedsEscort:        body.NeedsEscort,
		NeedsTag:           body.NeedsTag,
		SecurityClearance:  body.SecurityClearance,
	})
	if err != nil {
		handleClearanceError(w, r, err)
		return
	}
	a.audit(r.Context(), "request.step.transition", map[string]any{
		"request_id": updated.ID,
		"step_id":    stepID,
		"status":     string(body.Status),
	})
	writeJSON(w, http.StatusOK, updated)
}

func findStep(req *clearance.Request, stepID string) *clearance.RequestStep {
	for i := range req.Workflow {
		if req.Workflow[i].ID == stepID {
			return &req.Workflow[i]
		}
	}
	return nil
}

// approvalPermission maps a step to the permission kind required to resolve
// it: asset steps need the asset grant, human steps the grant matching the
// visitor's personnel/civilian kind.
func approvalPermission(req *clearance.Request, step *clearance.RequestStep) clearance.Permission {
	if step.Type == clearance.StepAsset {
		return clearance.PermApproveAsset
	}
	if req.IsPersonnel {
		return clearance.PermApprovePersonnel
	}
	return clearance.PermApproveCivilian
}
