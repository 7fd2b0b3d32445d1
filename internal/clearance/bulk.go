package clearance

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// BulkChangeStatus applies one status transition to every pending step of the
// request the user is permitted to act on. Step transitions are independent:
// a failed step surfaces in the returned error without rolling back siblings
// that already transitioned. The returned slice holds the ids of the steps
// that did transition; the request reflects the state after the last write.
func (s *Service) BulkChangeStatus(ctx context.Context, userID, requestID string, status Status) (*Request, []string, error) {
	userID = strings.TrimSpace(userID)
	requestID = strings.TrimSpace(requestID)
	if userID == "" || requestID == "" {
		return nil, nil, fmt.Errorf("%w: user id and request id are required", ErrInvalidInput)
	}
	if !status.Terminal() {
		return nil, nil, fmt.Errorf("%w: target status must be APPROVED or DENIED", ErrInvalidInput)
	}

	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	req, err := s.store.Requests(ctx).Find(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}

	matched := matchedStepIDs(user, req)
	if len(matched) == 0 {
		return req, nil, nil
	}

	var (
		done []string
		errs []error
	)
	for _, stepID := range matched {
		if _, err := s.ChangeStepStatus(ctx, stepID, status, userID, StepUpdate{}); err != nil {
			errs = append(errs, fmt.Errorf("step %s: %w", stepID, err))
			continue
		}
		done = append(done, stepID)
	}

	final, err := s.store.Requests(ctx).Find(ctx, requestID)
	if err != nil {
		return nil, done, errors.Join(append(errs, err)...)
	}
	return final, done, errors.Join(errs...)
}

// matchedStepIDs collects, in workflow order, the pending steps the user's
// grants cover. Admin accounts cover every pending step.
func matchedStepIDs(user *User, req *Request) []string {
	var ids []string
	if user.IsAdmin {
		for i := range req.Workflow {
			if req.Workflow[i].Status == StatusPending {
				ids = append(ids, req.Workflow[i].ID)
			}
		}
		return ids
	}
	clauses := stepClausesFor(user)
	for i := range req.Workflow {
		step := &req.Workflow[i]
		for _, c := range clauses {
			if c.MatchesStep(req, step) {
				ids = append(ids, step.ID)
				break
			}
		}
	}
	return ids
}
