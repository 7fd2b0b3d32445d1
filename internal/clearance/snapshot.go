package clearance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatepass.org/internal/ids"
	"gatepass.org/internal/obs"
)

// CreateRequestInput carries the caller-supplied fields for a new request.
type CreateRequestInput struct {
	OrganizationID  string
	RequestorID     string
	Visitor         Visitor
	StartDate       time.Time
	EndDate         time.Time
	Description     string
	PhoneNumber     string
	HasAsset        AssetKind
	AssetIdentifier string
	NeedsEscort     bool
}

// CreateRequest snapshots the organization's current template onto a new
// request. The snapshot is immutable afterwards: later template changes never
// touch existing requests.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*Request, error) {
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)
	in.RequestorID = strings.TrimSpace(in.RequestorID)
	in.Visitor.ID = strings.TrimSpace(in.Visitor.ID)
	if in.OrganizationID == "" || in.RequestorID == "" || in.Visitor.ID == "" {
		return nil, fmt.Errorf("%w: organization, requestor and visitor are required", ErrInvalidInput)
	}
	if in.HasAsset == "" {
		in.HasAsset = AssetNone
	}
	if in.HasAsset != AssetNone && strings.TrimSpace(in.AssetIdentifier) == "" {
		return nil, fmt.Errorf("%w: asset identifier is required when an asset is declared", ErrInvalidInput)
	}
	if in.EndDate.Before(in.StartDate) {
		return nil, fmt.Errorf("%w: end date precedes start date", ErrInvalidInput)
	}

	org, err := s.store.Organizations(ctx).Find(ctx, in.OrganizationID)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("%w: organization not found", ErrInvalidInput)
		}
		return nil, err
	}
	if !org.CanCreateRequests {
		return nil, ErrCreationDisabled
	}
	if _, err := s.store.Users(ctx).Find(ctx, in.RequestorID); err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("%w: requestor not found", ErrInvalidInput)
		}
		return nil, err
	}

	// Create-if-absent; an existing visitor record wins over the submitted
	// snapshot.
	visitor, err := s.store.Visitors(ctx).CreateIfAbsent(ctx, &in.Visitor)
	if err != nil {
		return nil, err
	}

	if len(org.Workflow) == 0 {
		return nil, ErrWorkflowNotAssigned
	}

	now := s.now()
	req := &Request{
		ID:              ids.New(),
		RequestDate:     now,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Description:     strings.TrimSpace(in.Description),
		PhoneNumber:     strings.TrimSpace(in.PhoneNumber),
		VisitorID:       visitor.ID,
		RequestorID:     in.RequestorID,
		OrganizationID:  org.ID,
		IsPersonnel:     IsPersonnelID(visitor.ID),
		HasAsset:        in.HasAsset,
		AssetIdentifier: strings.TrimSpace(in.AssetIdentifier),
		NeedsEscort:     in.NeedsEscort,
		Status:          StatusPending,
		Workflow:        snapshotSteps(org.Workflow, in.HasAsset),
	}
	// An all-asset template filtered down to zero steps leaves the request
	// vacuously approved; the aggregate rule owns that policy.
	req.Status = DeriveAggregate(req.Workflow)

	if err := s.store.Requests(ctx).Create(ctx, req); err != nil {
		return nil, err
	}
	obs.CountRequestCreated()
	s.notifyRequestCreated(req)
	return req, nil
}

// snapshotSteps copies the template into fresh pending request steps,
// dropping asset steps when the request declares no asset.
func snapshotSteps(template []WorkflowStep, asset AssetKind) []RequestStep {
	steps := make([]RequestStep, 0, len(template))
	for _, t := range template {
		if asset == AssetNone && t.Type == StepAsset {
			continue
		}
		steps = append(steps, RequestStep{
			ID:             ids.New(),
			Order:          t.Order,
			Type:           t.Type,
			OrganizationID: t.OrganizationID,
			Status:         StatusPending,
		})
	}
	return steps
}
