package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatepass.org/internal/auth"
	"gatepass.org/internal/clearance"
	"gatepass.org/internal/stream"
)

type testEnv struct {
	api     *API
	handler http.Handler
	svc     *clearance.Service
	store   *clearance.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("GATEPASS_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := clearance.NewInMemory()
	svc, err := clearance.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, stream.New(), ReadyProbe{}, "test")
	return &testEnv{api: api, handler: api.Handler(), svc: svc, store: store}
}

func (e *testEnv) createUser(t *testing.T, email, orgID string, admin bool) (*clearance.User, string) {
	t.Helper()
	user, err := e.svc.CreateUser(context.Background(), clearance.UserInput{
		Email:          email,
		Password:       "pw-" + email,
		OrganizationID: orgID,
		IsAdmin:        admin,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	token, err := auth.GenerateToken(user.ID, admin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/organizations", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without token, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/organizations", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 for garbage token, got %d", rec.Code)
	}
}

func TestAuthTokenFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "guard@example.com", "", false)

	rec := env.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email":    "guard@example.com",
		"password": "pw-guard@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token issue = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[tokenResponse](t, rec)
	if resp.Token == "" {
		t.Fatal("empty token")
	}

	// The issued token must authenticate follow-up calls.
	rec = env.do(t, http.MethodGet, "/v1/organizations", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated list = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{
		"email":    "guard@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", rec.Code)
	}
}

func TestOrganizationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.createUser(t, "admin@example.com", "", true)
	_, plainToken := env.createUser(t, "plain@example.com", "", false)

	// Creation is admin-only.
	rec := env.do(t, http.MethodPost, "/v1/organizations", plainToken, map[string]any{"name": "Alpha"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin create = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/v1/organizations", adminToken, map[string]any{"name": "Alpha"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	org := decodeBody[clearance.Organization](t, rec)
	if org.ID == "" || !org.ShowRequests {
		t.Fatalf("unexpected organization: %+v", org)
	}

	rec = env.do(t, http.MethodPost, "/v1/organizations", adminToken, map[string]any{"name": "Alpha"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate name = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/organizations/"+org.ID, plainToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/organizations/missing", plainToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing = %d", rec.Code)
	}
}

func TestWorkflowEndpointPermissions(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.createUser(t, "admin@example.com", "", true)

	rec := env.do(t, http.MethodPost, "/v1/organizations", adminToken, map[string]any{"name": "Alpha"})
	org := decodeBody[clearance.Organization](t, rec)

	editor, editorToken := env.createUser(t, "editor@example.com", org.ID, false)

	steps := map[string]any{"steps": []map[string]any{
		{"order": 1, "type": "HUMAN", "organization_id": org.ID},
	}}
	rec = env.do(t, http.MethodPut, "/v1/organizations/"+org.ID+"/workflow", editorToken, steps)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungranted edit = %d", rec.Code)
	}

	if _, err := env.svc.SetPermissions(context.Background(), editor.ID, []clearance.Grant{
		{OrganizationID: org.ID, Permissions: []clearance.Permission{clearance.PermEditWorkflow}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	rec = env.do(t, http.MethodPut, "/v1/organizations/"+org.ID+"/workflow", editorToken, steps)
	if rec.Code != http.StatusOK {
		t.Fatalf("granted edit = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/organizations/"+org.ID+"/workflow", editorToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get workflow = %d", rec.Code)
	}
	var body struct {
		Steps []clearance.WorkflowStep `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Steps) != 1 || body.Steps[0].OrganizationName != "Alpha" {
		t.Fatalf("unexpected steps: %+v", body.Steps)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.createUser(t, "admin@example.com", "", true)

	rec := env.do(t, http.MethodPost, "/v1/organizations", adminToken, map[string]any{"name": "Alpha"})
	org := decodeBody[clearance.Organization](t, rec)

	steps := map[string]any{"steps": []map[string]any{
		{"order": 1, "type": "HUMAN", "organization_id": org.ID},
	}}
	if rec = env.do(t, http.MethodPut, "/v1/organizations/"+org.ID+"/workflow", adminToken, steps); rec.Code != http.StatusOK {
		t.Fatalf("set workflow = %d", rec.Code)
	}

	requestor, requestorToken := env.createUser(t, "req@example.com", org.ID, false)
	if _, err := env.svc.SetPermissions(context.Background(), requestor.ID, []clearance.Grant{
		{OrganizationID: org.ID, Permissions: []clearance.Permission{clearance.PermCreateRequests}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	createBody := map[string]any{
		"organization_id": org.ID,
		"visitor":         map[string]any{"id": "990101123456", "first_name": "Jane", "last_name": "Doe"},
		"start_date":      time.Now().UTC().Format(time.RFC3339),
		"end_date":        time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339),
		"description":     "maintenance visit",
	}
	rec = env.do(t, http.MethodPost, "/v1/requests", requestorToken, createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create request = %d: %s", rec.Code, rec.Body.String())
	}
	req := decodeBody[clearance.Request](t, rec)
	if len(req.Workflow) != 1 || req.Status != clearance.StatusPending {
		t.Fatalf("unexpected request: %+v", req)
	}

	// Approving the step needs the matching grant.
	approver, approverToken := env.createUser(t, "appr@example.com", org.ID, false)
	stepPath := fmt.Sprintf("/v1/steps/%s/status", req.Workflow[0].ID)
	rec = env.do(t, http.MethodPut, stepPath, approverToken, map[string]any{"status": "APPROVED"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungranted approve = %d", rec.Code)
	}
	if _, err := env.svc.SetPermissions(context.Background(), approver.ID, []clearance.Grant{
		{OrganizationID: org.ID, Permissions: []clearance.Permission{clearance.PermApproveCivilian}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	rec = env.do(t, http.MethodPut, stepPath, approverToken, map[string]any{"status": "APPROVED"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}
	approved := decodeBody[clearance.Request](t, rec)
	if approved.Status != clearance.StatusApproved {
		t.Fatalf("aggregate = %s", approved.Status)
	}

	// A second transition on the same step is rejected.
	rec = env.do(t, http.MethodPut, stepPath, approverToken, map[string]any{"status": "DENIED"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("double transition = %d", rec.Code)
	}

	// Comments append and return the updated request.
	rec = env.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/comments", requestorToken, map[string]any{
		"content": "badge printed",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("comment = %d: %s", rec.Code, rec.Body.String())
	}

	// Search as the requestor sees the request.
	rec = env.do(t, http.MethodGet, "/v1/requests?view=all", requestorToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Items []clearance.Request `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("want 1 request, got %d", len(list.Items))
	}
}

func TestBulkStatusOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.createUser(t, "admin@example.com", "", true)

	rec := env.do(t, http.MethodPost, "/v1/organizations", adminToken, map[string]any{"name": "Alpha"})
	org := decodeBody[clearance.Organization](t, rec)
	steps := map[string]any{"steps": []map[string]any{
		{"order": 1, "type": "HUMAN", "organization_id": org.ID},
		{"order": 2, "type": "ASSET", "organization_id": org.ID},
	}}
	if rec = env.do(t, http.MethodPut, "/v1/organizations/"+org.ID+"/workflow", adminToken, steps); rec.Code != http.StatusOK {
		t.Fatalf("set workflow = %d", rec.Code)
	}

	requestor, requestorToken := env.createUser(t, "req@example.com", org.ID, false)
	if _, err := env.svc.SetPermissions(context.Background(), requestor.ID, []clearance.Grant{
		{OrganizationID: org.ID, Permissions: []clearance.Permission{
			clearance.PermCreateRequests, clearance.PermApproveCivilian, clearance.PermApproveAsset,
		}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/v1/requests", requestorToken, map[string]any{
		"organization_id":  org.ID,
		"visitor":          map[string]any{"id": "990101123456"},
		"start_date":       time.Now().UTC().Format(time.RFC3339),
		"end_date":         time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"has_asset":        "PRIVATE",
		"asset_identifier": "KZ 001 AA",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	req := decodeBody[clearance.Request](t, rec)

	rec = env.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/bulk-status", requestorToken, map[string]any{
		"status": "APPROVED",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[bulkStatusResponse](t, rec)
	if len(resp.ChangedSteps) != 2 {
		t.Fatalf("want 2 changed steps, got %v", resp.ChangedSteps)
	}
	if resp.Request.Status != clearance.StatusApproved {
		t.Fatalf("aggregate = %s", resp.Request.Status)
	}
}

func TestPermissionCheckEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.createUser(t, "guard@example.com", "", false)
	if _, err := env.svc.SetPermissions(context.Background(), user.ID, []clearance.Grant{
		{OrganizationID: "org-a", Permissions: []clearance.Permission{clearance.PermViewRequests}},
	}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/permissions/check", token, map[string]any{
		"permissions":     []string{"VIEW_REQUESTS"},
		"organization_id": "org-a",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("check = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Allowed {
		t.Fatal("expected allowed=true")
	}

	rec = env.do(t, http.MethodPost, "/v1/permissions/check", token, map[string]any{
		"permissions":     []string{"DELETE_REQUEST"},
		"organization_id": "org-a",
	})
	out = decodeBody[struct {
		Allowed bool `json:"allowed"`
	}](t, rec)
	if out.Allowed {
		t.Fatal("expected allowed=false")
	}
}
