package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/auth"
	"gatepass.org/internal/clearance"
	"gatepass.org/internal/obs"
	"gatepass.org/internal/stream"
)

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the clearance service.
type API struct {
	mux     *http.ServeMux
	svc     *clearance.Service
	stream  *stream.Stream
	ready   ReadyProbe
	version string
}

func New(svc *clearance.Service, s *stream.Stream, rp ReadyProbe, version string) *API {
	a := &API{
		mux:     http.NewServeMux(),
		svc:     svc,
		stream:  s,
		ready:   rp,
		version: version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)

	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)

	a.mux.HandleFunc("/v1/requests", a.handleRequests)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestScoped)
	a.mux.HandleFunc("/v1/steps/", a.handleStepScoped)

	a.mux.HandleFunc("/v1/events", a.Events)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatepass-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatepass-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// currentUser extracts the authenticated user, answering 401 when absent.
func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// ensurePermissions answers 401/403 and returns false unless the caller holds
// the listed permissions for the organization (empty orgID checks the union
// of the caller's grants).
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, orgID string, matchAny bool, perms ...clearance.Permission) bool {
	userID, ok := a.currentUser(w, r)
	if !ok {
		return false
	}
	allowed, err := a.svc.HasPermission(r.Context(), userID, perms, orgID, matchAny)
	if err != nil {
		handleClearanceError(w, r, err)
		return false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleClearanceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clearance.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, clearance.ErrDuplicate):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, clearance.ErrWorkflowNotAssigned):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, clearance.ErrCreationDisabled):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, clearance.ErrNoOrganization):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, clearance.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
