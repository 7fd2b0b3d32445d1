package clearance

import (
	"context"
	"errors"
	"testing"
)

// seedMixedRequest builds a request with a human step for org-b, a human step
// for org-a and an asset step for org-a.
func seedMixedRequest(t *testing.T, svc *Service, store *InMemory) *Request {
	t.Helper()
	ctx := context.Background()
	seedOrg(t, store, "org-a", "Alpha")
	seedOrg(t, store, "org-b", "Bravo")
	seedUser(t, store, "user-1", "one@example.com", "org-a")
	if _, err := svc.SetWorkflow(ctx, "org-a", []WorkflowStep{
		{Order: 1, Type: StepHuman, OrganizationID: "org-b"},
		{Order: 2, Type: StepHuman, OrganizationID: "org-a"},
		{Order: 3, Type: StepAsset, OrganizationID: "org-a"},
	}); err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}
	in := baseRequestInput()
	in.HasAsset = AssetPrivate
	in.AssetIdentifier = "KZ 001 AA"
	req, err := svc.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if len(req.Workflow) != 3 {
		t.Fatalf("want 3 steps, got %d", len(req.Workflow))
	}
	return req
}

func TestBulkChangeStatusScopedByGrants(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedMixedRequest(t, svc, store)

	// Civilian approver for org-a only: matches the org-a human step, not the
	// org-b step and not the asset step.
	if _, err := svc.SetPermissions(ctx, "user-1", []Grant{
		{OrganizationID: "org-a", Permissions: []Permission{PermApproveCivilian}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	after, done, err := svc.BulkChangeStatus(ctx, "user-1", req.ID, StatusApproved)
	if err != nil {
		t.Fatalf("BulkChangeStatus: %v", err)
	}
	if len(done) != 1 || done[0] != req.Workflow[1].ID {
		t.Fatalf("only the org-a human step should transition, got %v", done)
	}
	if after.Status != StatusPending {
		t.Fatalf("aggregate should stay pending, got %s", after.Status)
	}
	if after.Workflow[0].Status != StatusPending || after.Workflow[2].Status != StatusPending {
		t.Fatalf("unmatched steps must stay pending: %+v", after.Workflow)
	}

	// Widening the grant covers the asset step too.
	if _, err := svc.SetPermissions(ctx, "user-1", []Grant{
		{OrganizationID: "org-a", Permissions: []Permission{PermApproveCivilian, PermApproveAsset}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	after, done, err = svc.BulkChangeStatus(ctx, "user-1", req.ID, StatusApproved)
	if err != nil {
		t.Fatalf("BulkChangeStatus (asset): %v", err)
	}
	if len(done) != 1 || done[0] != req.Workflow[2].ID {
		t.Fatalf("the already-approved step must be skipped, got %v", done)
	}
	if after.Workflow[0].Status != StatusPending {
		t.Fatal("org-b step must remain untouched")
	}
}

func TestBulkChangeStatusAdminCoversAll(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedMixedRequest(t, svc, store)

	admin := &User{ID: "adm", Email: "adm@example.com", IsAdmin: true}
	if err := store.Users(ctx).Create(ctx, admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	after, done, err := svc.BulkChangeStatus(ctx, "adm", req.ID, StatusApproved)
	if err != nil {
		t.Fatalf("BulkChangeStatus: %v", err)
	}
	if len(done) != 3 {
		t.Fatalf("admin should cover all pending steps, got %v", done)
	}
	if after.Status != StatusApproved {
		t.Fatalf("aggregate should be approved, got %s", after.Status)
	}
}

func TestBulkChangeStatusNoMatchesIsNoOp(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedMixedRequest(t, svc, store)

	// No grants at all.
	after, done, err := svc.BulkChangeStatus(ctx, "user-1", req.ID, StatusDenied)
	if err != nil {
		t.Fatalf("BulkChangeStatus: %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("want no transitions, got %v", done)
	}
	if after.Status != StatusPending {
		t.Fatalf("request must be untouched, got %s", after.Status)
	}
}

func TestBulkChangeStatusValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedMixedRequest(t, svc, store)

	if _, _, err := svc.BulkChangeStatus(ctx, "user-1", req.ID, StatusPending); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("PENDING target must be rejected, got %v", err)
	}
	if _, _, err := svc.BulkChangeStatus(ctx, "ghost", req.ID, StatusApproved); err != ErrNotFound {
		t.Fatalf("unknown user: want ErrNotFound, got %v", err)
	}
	if _, _, err := svc.BulkChangeStatus(ctx, "user-1", "missing", StatusApproved); err != ErrNotFound {
		t.Fatalf("unknown request: want ErrNotFound, got %v", err)
	}
}
