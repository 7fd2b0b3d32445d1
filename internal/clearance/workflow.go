package clearance

import (
	"context"
	"fmt"
	"strings"

	"gatepass.org/internal/obs"
)

// SetWorkflow replaces an organization's approval template. A nil steps slice
// is a no-op returning (nil, nil); an empty slice clears the template. The
// input is de-duplicated by (organization, type) with the first occurrence
// winning, then tag propagation runs synchronously.
func (s *Service) SetWorkflow(ctx context.Context, orgID string, steps []WorkflowStep) (*Organization, error) {
	if steps == nil {
		return nil, nil
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}

	orgs := s.store.Organizations(ctx)
	org, err := orgs.Find(ctx, orgID)
	if err != nil {
		return nil, err
	}

	org.Workflow = dedupeSteps(steps)
	org.UpdatedAt = s.now()
	if err := orgs.Update(ctx, org); err != nil {
		return nil, err
	}
	if err := s.tags.Recompute(ctx, org); err != nil {
		return nil, err
	}
	obs.CountWorkflowUpdate()
	return org, nil
}

// GetWorkflow returns the organization's stored template with each step's
// organization name resolved. Organizations without a template yield an
// empty slice.
func (s *Service) GetWorkflow(ctx context.Context, orgID string) ([]WorkflowStep, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	orgs := s.store.Organizations(ctx)
	org, err := orgs.Find(ctx, orgID)
	if err != nil {
		return nil, err
	}

	steps := make([]WorkflowStep, 0, len(org.Workflow))
	names := make(map[string]string, len(org.Workflow))
	for _, st := range org.Workflow {
		name, ok := names[st.OrganizationID]
		if !ok {
			if st.OrganizationID == org.ID {
				name = org.Name
			} else if stepOrg, err := orgs.Find(ctx, st.OrganizationID); err == nil {
				name = stepOrg.Name
			} else if err != ErrNotFound {
				return nil, err
			}
			names[st.OrganizationID] = name
		}
		st.OrganizationName = name
		steps = append(steps, st)
	}
	return steps, nil
}

// dedupeSteps keeps the first step per (organization, type) pair, preserving
// input order.
func dedupeSteps(steps []WorkflowStep) []WorkflowStep {
	type stepKey struct {
		org string
		typ StepType
	}
	seen := make(map[stepKey]struct{}, len(steps))
	kept := make([]WorkflowStep, 0, len(steps))
	for _, st := range steps {
		k := stepKey{org: st.OrganizationID, typ: st.Type}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		st.OrganizationName = "" // resolved on read, not stored
		kept = append(kept, st)
	}
	return kept
}
