package clearance

import (
	"context"
	"errors"
	"testing"
)

func TestDeriveAggregate(t *testing.T) {
	cases := []struct {
		name  string
		steps []Status
		want  Status
	}{
		{"zero steps", nil, StatusApproved},
		{"all pending", []Status{StatusPending, StatusPending}, StatusPending},
		{"denied wins over pending", []Status{StatusPending, StatusDenied}, StatusDenied},
		{"denied wins over approved", []Status{StatusApproved, StatusDenied}, StatusDenied},
		{"all approved", []Status{StatusApproved, StatusApproved}, StatusApproved},
		{"mixed pending and approved", []Status{StatusApproved, StatusPending}, StatusPending},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			steps := make([]RequestStep, len(c.steps))
			for i, s := range c.steps {
				steps[i] = RequestStep{Status: s}
			}
			if got := DeriveAggregate(steps); got != c.want {
				t.Fatalf("DeriveAggregate = %s, want %s", got, c.want)
			}
		})
	}
}

func seedRequestWithSteps(t *testing.T, svc *Service, store *InMemory) *Request {
	t.Helper()
	ctx := context.Background()
	seedOrg(t, store, "org-a", "Alpha")
	seedOrg(t, store, "org-b", "Bravo")
	seedUser(t, store, "user-1", "one@example.com", "org-a")
	if _, err := svc.SetWorkflow(ctx, "org-a", []WorkflowStep{
		{Order: 1, Type: StepHuman, OrganizationID: "org-b"},
		{Order: 2, Type: StepHuman, OrganizationID: "org-a"},
	}); err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}
	req, err := svc.CreateRequest(ctx, baseRequestInput())
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func TestChangeStepStatusApprovalChain(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedRequestWithSteps(t, svc, store)

	confirmation := "C-1001"
	escort := true
	clearance := 3
	after, err := svc.ChangeStepStatus(ctx, req.Workflow[0].ID, StatusApproved, "user-1", StepUpdate{
		ConfirmationNumber: &confirmation,
		NeedsEscort:        &escort,
		SecurityClearance:  &clearance,
	})
	if err != nil {
		t.Fatalf("ChangeStepStatus: %v", err)
	}
	if after.Status != StatusPending {
		t.Fatalf("aggregate should stay pending with one step open, got %s", after.Status)
	}
	step := after.Workflow[0]
	if step.Status != StatusApproved || step.AuthorizerID != "user-1" || step.LastChangeDate == nil {
		t.Fatalf("transition fields not recorded: %+v", step)
	}
	if step.ConfirmationNumber != "C-1001" || step.NeedsEscort == nil || !*step.NeedsEscort {
		t.Fatalf("optional fields not applied: %+v", step)
	}
	if step.SecurityClearance == nil || *step.SecurityClearance != 3 {
		t.Fatalf("security clearance not applied: %+v", step)
	}

	final, err := svc.ChangeStepStatus(ctx, req.Workflow[1].ID, StatusApproved, "user-1", StepUpdate{})
	if err != nil {
		t.Fatalf("ChangeStepStatus (second): %v", err)
	}
	if final.Status != StatusApproved {
		t.Fatalf("aggregate should be approved after the last step, got %s", final.Status)
	}
}

func TestChangeStepStatusDenialDeniesAggregate(t *testing.T) {
	svc, store := newTestService(t)
	req := seedRequestWithSteps(t, svc, store)

	after, err := svc.ChangeStepStatus(context.Background(), req.Workflow[0].ID, StatusDenied, "user-1", StepUpdate{})
	if err != nil {
		t.Fatalf("ChangeStepStatus: %v", err)
	}
	if after.Status != StatusDenied {
		t.Fatalf("one denial should deny the request, got %s", after.Status)
	}
}

func TestChangeStepStatusTerminalStepRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedRequestWithSteps(t, svc, store)

	if _, err := svc.ChangeStepStatus(ctx, req.Workflow[0].ID, StatusApproved, "user-1", StepUpdate{}); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	_, err := svc.ChangeStepStatus(ctx, req.Workflow[0].ID, StatusDenied, "user-1", StepUpdate{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("resolved step must reject further transitions, got %v", err)
	}
}

func TestChangeStepStatusValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedRequestWithSteps(t, svc, store)

	if _, err := svc.ChangeStepStatus(ctx, req.Workflow[0].ID, StatusPending, "user-1", StepUpdate{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("PENDING target must be rejected, got %v", err)
	}
	if _, err := svc.ChangeStepStatus(ctx, "missing-step", StatusApproved, "user-1", StepUpdate{}); err != ErrNotFound {
		t.Fatalf("unknown step must yield ErrNotFound, got %v", err)
	}
}

func TestChangeStepStatusClearanceOutOfRangeSkipped(t *testing.T) {
	svc, store := newTestService(t)
	req := seedRequestWithSteps(t, svc, store)

	tooHigh := 9
	after, err := svc.ChangeStepStatus(context.Background(), req.Workflow[0].ID, StatusApproved, "user-1", StepUpdate{
		SecurityClearance: &tooHigh,
	})
	if err != nil {
		t.Fatalf("ChangeStepStatus: %v", err)
	}
	if after.Workflow[0].SecurityClearance != nil {
		t.Fatalf("out-of-range clearance should be skipped, got %d", *after.Workflow[0].SecurityClearance)
	}
}
