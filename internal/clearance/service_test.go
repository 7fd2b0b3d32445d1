package clearance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateOrganizationDefaultsAndDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, OrganizationInput{Name: "Alpha"})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if !org.ShowRequests || !org.CanCreateRequests {
		t.Fatalf("flags should default to true, got %+v", org)
	}

	if _, err := svc.CreateOrganization(ctx, OrganizationInput{Name: "alpha"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate name should be rejected, got %v", err)
	}

	off := false
	org2, err := svc.CreateOrganization(ctx, OrganizationInput{Name: "Bravo", ShowRequests: &off})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if org2.ShowRequests {
		t.Fatal("explicit false flag should stick")
	}

	if _, err := svc.CreateOrganization(ctx, OrganizationInput{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name should be rejected, got %v", err)
	}
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedOrg(t, store, "org-a", "Alpha")

	user, err := svc.CreateUser(ctx, UserInput{
		Email:          "Guard@Example.com",
		Password:       "correct horse",
		OrganizationID: "org-a",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "guard@example.com" {
		t.Fatalf("email should be normalized, got %q", user.Email)
	}
	if user.PasswordHash == "correct horse" || user.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}

	if _, err := svc.Authenticate(ctx, "guard@example.com", "correct horse"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "guard@example.com", "wrong"); err != ErrNotFound {
		t.Fatalf("bad password: want ErrNotFound, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "x"); err != ErrNotFound {
		t.Fatalf("unknown email: want ErrNotFound, got %v", err)
	}

	if _, err := svc.CreateUser(ctx, UserInput{Email: "guard@example.com", Password: "p"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate email should be rejected, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, UserInput{Email: "bad-email", Password: "p"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid email should be rejected, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, UserInput{Email: "x@example.com", Password: "p", OrganizationID: "missing"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown organization should be rejected, got %v", err)
	}
}

func TestSetPermissions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "one@example.com", "org-a")

	user, err := svc.SetPermissions(ctx, "user-1", []Grant{{
		OrganizationID: "org-a",
		Permissions: []Permission{
			PermApproveCivilian,
			PermApproveCivilian, // duplicate, dropped
			PermViewRequests,
		},
	}})
	if err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if len(user.Grants) != 1 || len(user.Grants[0].Permissions) != 2 {
		t.Fatalf("duplicates should be dropped, got %+v", user.Grants)
	}

	if _, err := svc.SetPermissions(ctx, "user-1", []Grant{{
		OrganizationID: "org-a",
		Permissions:    []Permission{"MAKE_COFFEE"},
	}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown permission should be rejected, got %v", err)
	}

	if _, err := svc.SetPermissions(ctx, "missing", nil); err != ErrNotFound {
		t.Fatalf("unknown user: want ErrNotFound, got %v", err)
	}

	// Replacing with an empty set revokes everything.
	user, err = svc.SetPermissions(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("SetPermissions (revoke): %v", err)
	}
	if len(user.Grants) != 0 {
		t.Fatalf("grants should be revoked, got %+v", user.Grants)
	}
}

func TestHasPermission(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "one@example.com", "org-a")
	admin := &User{ID: "adm", Email: "adm@example.com", IsAdmin: true}
	if err := store.Users(ctx).Create(ctx, admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if _, err := svc.SetPermissions(ctx, "user-1", []Grant{
		{OrganizationID: "org-a", Permissions: []Permission{PermApproveCivilian}},
		{OrganizationID: "org-b", Permissions: []Permission{PermEditWorkflow}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	cases := []struct {
		name     string
		userID   string
		required []Permission
		orgID    string
		matchAny bool
		want     bool
	}{
		{"held in org", "user-1", []Permission{PermApproveCivilian}, "org-a", false, true},
		{"held in other org only", "user-1", []Permission{PermEditWorkflow}, "org-a", false, false},
		{"union across grants", "user-1", []Permission{PermEditWorkflow}, "", false, true},
		{"all-of fails on partial", "user-1", []Permission{PermApproveCivilian, PermDeleteRequest}, "org-a", false, false},
		{"any-of passes on partial", "user-1", []Permission{PermApproveCivilian, PermDeleteRequest}, "org-a", true, true},
		{"empty required is vacuous", "user-1", nil, "org-a", false, true},
		{"admin bypasses", "adm", []Permission{PermDeleteRequest}, "org-z", false, true},
		{"unknown user is false", "ghost", []Permission{PermViewRequests}, "", false, false},
		{"blank user is false", "", nil, "", false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := svc.HasPermission(ctx, c.userID, c.required, c.orgID, c.matchAny)
			if err != nil {
				t.Fatalf("HasPermission: %v", err)
			}
			if got != c.want {
				t.Fatalf("HasPermission = %v, want %v", got, c.want)
			}
		})
	}
}

func TestUpdateRequestKeepsSnapshot(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedRequestWithSteps(t, svc, store)

	desc := "updated visit purpose"
	end := req.EndDate.Add(48 * time.Hour)
	updated, err := svc.UpdateRequest(ctx, req.ID, RequestUpdate{Description: &desc, EndDate: &end})
	if err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}
	if updated.Description != desc || !updated.EndDate.Equal(end) {
		t.Fatalf("fields not applied: %+v", updated)
	}
	if len(updated.Workflow) != len(req.Workflow) {
		t.Fatal("update must not touch the snapshot")
	}

	badEnd := req.StartDate.Add(-time.Hour)
	if _, err := svc.UpdateRequest(ctx, req.ID, RequestUpdate{EndDate: &badEnd}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("inverted dates should be rejected, got %v", err)
	}
}

func TestAddComment(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := seedRequestWithSteps(t, svc, store)

	after, err := svc.AddComment(ctx, req.ID, "user-1", "checked badge at gate 3")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if len(after.Comments) != 1 || after.Comments[0].AuthorID != "user-1" {
		t.Fatalf("comment not appended: %+v", after.Comments)
	}

	if _, err := svc.AddComment(ctx, req.ID, "user-1", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank comment should be rejected, got %v", err)
	}
}

func TestSearchRequestsViews(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedOrg(t, store, "org-a", "Alpha")
	seedUser(t, store, "user-1", "one@example.com", "org-a")
	if _, err := svc.SetWorkflow(ctx, "org-a", []WorkflowStep{
		{Order: 1, Type: StepHuman, OrganizationID: "org-a"},
	}); err != nil {
		t.Fatalf("SetWorkflow: %v", err)
	}

	civ := baseRequestInput()
	civ.Description = "civilian contractor"
	if _, err := svc.CreateRequest(ctx, civ); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	pers := baseRequestInput()
	pers.Visitor = Visitor{ID: "A12345", FirstName: "Sam"}
	if _, err := svc.CreateRequest(ctx, pers); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	all, err := svc.SearchRequests(ctx, "user-1", ViewAll, "", Page{})
	if err != nil {
		t.Fatalf("SearchRequests(all): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("want 2 requests in the all view, got %d", len(all))
	}

	civOnly, err := svc.SearchRequests(ctx, "user-1", ViewCivilian, "", Page{})
	if err != nil {
		t.Fatalf("SearchRequests(civilian): %v", err)
	}
	if len(civOnly) != 1 || civOnly[0].IsPersonnel {
		t.Fatalf("civilian view wrong: %+v", civOnly)
	}

	persOnly, err := svc.SearchRequests(ctx, "user-1", ViewPersonnel, "", Page{})
	if err != nil {
		t.Fatalf("SearchRequests(personnel): %v", err)
	}
	if len(persOnly) != 1 || !persOnly[0].IsPersonnel {
		t.Fatalf("personnel view wrong: %+v", persOnly)
	}

	// No approval grants: the pending view is empty, not an error.
	pending, err := svc.SearchRequests(ctx, "user-1", ViewPending, "", Page{})
	if err != nil {
		t.Fatalf("SearchRequests(pending): %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("want empty pending view, got %d", len(pending))
	}

	if _, err := svc.SetPermissions(ctx, "user-1", []Grant{
		{OrganizationID: "org-a", Permissions: []Permission{PermApproveCivilian, PermApprovePersonnel}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	pending, err = svc.SearchRequests(ctx, "user-1", ViewPending, "", Page{})
	if err != nil {
		t.Fatalf("SearchRequests(pending, granted): %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("want 2 pending requests, got %d", len(pending))
	}

	// Term narrows within the view.
	found, err := svc.SearchRequests(ctx, "user-1", ViewAll, "contractor", Page{})
	if err != nil {
		t.Fatalf("SearchRequests(term): %v", err)
	}
	if len(found) != 1 || found[0].Description != "civilian contractor" {
		t.Fatalf("term search wrong: %+v", found)
	}

	// A user without an organization gets "no result" for org-scoped views.
	orphan := &User{ID: "orphan", Email: "orphan@example.com"}
	if err := store.Users(ctx).Create(ctx, orphan); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	if _, err := svc.SearchRequests(ctx, "orphan", ViewAll, "", Page{}); err != ErrNoOrganization {
		t.Fatalf("want ErrNoOrganization, got %v", err)
	}

	if _, err := svc.SearchRequests(ctx, "user-1", View("bogus"), "", Page{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown view should be rejected, got %v", err)
	}
}
