package clearance

import (
	"context"
	"fmt"
	"strings"

	"gatepass.org/internal/obs"
)

// DeriveAggregate computes a request's status from its step statuses: any
// denied step denies the request; otherwise the request is approved once no
// step is pending. A request with zero steps (an all-asset template filtered
// down for an asset-free visit) is trivially approved.
func DeriveAggregate(steps []RequestStep) Status {
	pending := false
	for _, s := range steps {
		switch s.Status {
		case StatusDenied:
			return StatusDenied
		case StatusPending:
			pending = true
		}
	}
	if pending {
		return StatusPending
	}
	return StatusApproved
}

// StepUpdate carries the optional fields an authorizer may set while
// resolving a step. Nil fields are left untouched.
type StepUpdate struct {
	ConfirmationNumber *string
	NeedsEscort        *bool
	NeedsTag           *bool
	SecurityClearance  *int // applied only when within [0,5]
}

// ChangeStepStatus resolves one approval step and recomputes the request's
// aggregate status. Steps only transition out of PENDING; APPROVED and DENIED
// are terminal.
func (s *Service) ChangeStepStatus(ctx context.Context, stepID string, status Status, authorizerID string, upd StepUpdate) (*Request, error) {
	stepID = strings.TrimSpace(stepID)
	authorizerID = strings.TrimSpace(authorizerID)
	if stepID == "" || authorizerID == "" {
		return nil, fmt.Errorf("%w: step id and authorizer id are required", ErrInvalidInput)
	}
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: target status must be APPROVED or DENIED", ErrInvalidInput)
	}

	requests := s.store.Requests(ctx)
	req, err := requests.FindByStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var step *RequestStep
	for i := range req.Workflow {
		if req.Workflow[i].ID == stepID {
			step = &req.Workflow[i]
			break
		}
	}
	if step == nil {
		return nil, ErrNotFound
	}
	if step.Status != StatusPending {
		return nil, fmt.Errorf("%w: step already resolved", ErrInvalidInput)
	}

	now := s.now()
	step.Status = status
	step.AuthorizerID = authorizerID
	step.LastChangeDate = &now
	if upd.ConfirmationNumber != nil {
		step.ConfirmationNumber = *upd.ConfirmationNumber
	}
	if upd.NeedsEscort != nil {
		step.NeedsEscort = upd.NeedsEscort
	}
	if upd.NeedsTag != nil {
		step.NeedsTag = upd.NeedsTag
	}
	if upd.SecurityClearance != nil && *upd.SecurityClearance >= 0 && *upd.SecurityClearance <= 5 {
		step.SecurityClearance = upd.SecurityClearance
	}

	if err := requests.UpdateStep(ctx, req.ID, *step); err != nil {
		return nil, err
	}

	// Re-read the request so the aggregate derives from committed state,
	// then overwrite the aggregate unconditionally: the recompute is
	// idempotent, so the last writer is always self-correcting.
	fresh, err := requests.Find(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	aggregate := DeriveAggregate(fresh.Workflow)
	if err := requests.SetStatus(ctx, fresh.ID, aggregate); err != nil {
		return nil, err
	}
	fresh.Status = aggregate

	obs.CountStepTransition(string(status))
	s.notifyStepChanged(fresh, *step)
	return fresh, nil
}
