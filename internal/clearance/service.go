package clearance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatepass.org/internal/auth"
	"gatepass.org/internal/ids"
	"gatepass.org/internal/obs"
)

// Notifier receives fire-and-forget lifecycle events. Implementations must
// tolerate concurrent calls; failures are logged by the service and never
// block an operation.
type Notifier interface {
	RequestCreated(ctx context.Context, r *Request) error
	StepChanged(ctx context.Context, r *Request, step RequestStep) error
	CommentAdded(ctx context.Context, r *Request, c Comment) error
}

const notifyTimeout = 5 * time.Second

// Service provides the clearance operations over a Store.
type Service struct {
	store    Store
	tags     *TagEngine
	notifier Notifier
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithNotifier attaches a lifecycle notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// NewService constructs a Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("clearance store is required")
	}
	svc := &Service{
		store: store,
		tags:  NewTagEngine(store),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Filters returns a FilterBuilder bound to the organization store.
func (s *Service) Filters(ctx context.Context) *FilterBuilder {
	return NewFilterBuilder(s.store.Organizations(ctx))
}

// OrganizationInput carries the fields for a new organization. Nil flags
// default to true.
type OrganizationInput struct {
	Name              string
	ShowRequests      *bool
	CanCreateRequests *bool
}

// CreateOrganization registers a new organization with an empty template.
func (s *Service) CreateOrganization(ctx context.Context, in OrganizationInput) (*Organization, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	now := s.now()
	org := &Organization{
		ID:                ids.New(),
		Name:              name,
		ShowRequests:      true,
		CanCreateRequests: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.ShowRequests != nil {
		org.ShowRequests = *in.ShowRequests
	}
	if in.CanCreateRequests != nil {
		org.CanCreateRequests = *in.CanCreateRequests
	}
	if err := s.store.Organizations(ctx).Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization fetches one organization.
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.Organizations(ctx).Find(ctx, id)
}

// ListOrganizations returns all organizations.
func (s *Service) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	return s.store.Organizations(ctx).List(ctx)
}

// UserInput carries the fields for a new operator account.
type UserInput struct {
	Email          string
	Password       string
	OrganizationID string
	IsAdmin        bool
}

// CreateUser registers an operator account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	password := strings.TrimSpace(in.Password)
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	orgID := strings.TrimSpace(in.OrganizationID)
	if orgID != "" {
		if _, err := s.store.Organizations(ctx).Find(ctx, orgID); err != nil {
			if err == ErrNotFound {
				return nil, fmt.Errorf("%w: organization not found", ErrInvalidInput)
			}
			return nil, err
		}
	}
	now := s.now()
	user := &User{
		ID:             ids.New(),
		Email:          email,
		PasswordHash:   hash,
		OrganizationID: orgID,
		IsAdmin:        in.IsAdmin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies an email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// ListUsersByOrganization returns the operator accounts of one organization.
func (s *Service) ListUsersByOrganization(ctx context.Context, orgID string) ([]*User, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).ListByOrganization(ctx, orgID)
}

// GetUser fetches one operator account.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).Find(ctx, id)
}

// SetPermissions replaces a user's permission grants. Permission kinds are
// de-duplicated per grant; unknown kinds are rejected.
func (s *Service) SetPermissions(ctx context.Context, userID string, grants []Grant) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	normalized := make([]Grant, 0, len(grants))
	for _, g := range grants {
		orgID := strings.TrimSpace(g.OrganizationID)
		if orgID == "" {
			return nil, fmt.Errorf("%w: grant organization id is required", ErrInvalidInput)
		}
		seen := make(map[Permission]struct{}, len(g.Permissions))
		kept := make([]Permission, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			if !knownPermission(p) {
				return nil, fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, p)
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			kept = append(kept, p)
		}
		normalized = append(normalized, Grant{OrganizationID: orgID, Permissions: kept})
	}
	users := s.store.Users(ctx)
	if err := users.SetGrants(ctx, userID, normalized); err != nil {
		return nil, err
	}
	return users.Find(ctx, userID)
}

// HasPermission reports whether the user holds the required permissions.
// Admin accounts always pass; an empty required set is vacuously satisfied;
// an unknown user id yields false without an error. With an empty orgID the
// check runs against the union of the user's grants; otherwise only against
// the grant for that organization. matchAny switches between at-least-one
// and all-required semantics.
func (s *Service) HasPermission(ctx context.Context, userID string, required []Permission, orgID string, matchAny bool) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if user.IsAdmin {
		return true, nil
	}
	if len(required) == 0 {
		return true, nil
	}

	held := make(map[Permission]struct{})
	for _, g := range user.Grants {
		if orgID != "" && g.OrganizationID != orgID {
			continue
		}
		for _, p := range g.Permissions {
			held[p] = struct{}{}
		}
	}

	matched := 0
	for _, p := range required {
		if _, ok := held[p]; ok {
			matched++
		}
	}
	if matchAny {
		return matched > 0, nil
	}
	return matched == len(required), nil
}

// FindRequest fetches one request.
func (s *Service) FindRequest(ctx context.Context, id string) (*Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	return s.store.Requests(ctx).Find(ctx, id)
}

// FindRequestByStep locates the request containing the given step.
func (s *Service) FindRequestByStep(ctx context.Context, stepID string) (*Request, error) {
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return nil, fmt.Errorf("%w: step id is required", ErrInvalidInput)
	}
	return s.store.Requests(ctx).FindByStep(ctx, stepID)
}

// RequestUpdate carries the mutable (non-workflow) request fields. The
// workflow snapshot and originating organization are immutable after
// creation.
type RequestUpdate struct {
	StartDate       *time.Time
	EndDate         *time.Time
	Description     *string
	PhoneNumber     *string
	AssetIdentifier *string
	NeedsEscort     *bool
}

// UpdateRequest modifies non-workflow fields of a request.
func (s *Service) UpdateRequest(ctx context.Context, id string, upd RequestUpdate) (*Request, error) {
	requests := s.store.Requests(ctx)
	req, err := requests.Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if upd.StartDate != nil {
		req.StartDate = *upd.StartDate
	}
	if upd.EndDate != nil {
		req.EndDate = *upd.EndDate
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, fmt.Errorf("%w: end date precedes start date", ErrInvalidInput)
	}
	if upd.Description != nil {
		req.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.PhoneNumber != nil {
		req.PhoneNumber = strings.TrimSpace(*upd.PhoneNumber)
	}
	if upd.AssetIdentifier != nil {
		req.AssetIdentifier = strings.TrimSpace(*upd.AssetIdentifier)
	}
	if upd.NeedsEscort != nil {
		req.NeedsEscort = *upd.NeedsEscort
	}
	if err := requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DeleteRequest removes a request.
func (s *Service) DeleteRequest(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	return s.store.Requests(ctx).Delete(ctx, id)
}

// AddComment appends a comment to a request.
func (s *Service) AddComment(ctx context.Context, requestID, authorID, content string) (*Request, error) {
	requestID = strings.TrimSpace(requestID)
	authorID = strings.TrimSpace(authorID)
	content = strings.TrimSpace(content)
	if requestID == "" || authorID == "" || content == "" {
		return nil, fmt.Errorf("%w: request id, author and content are required", ErrInvalidInput)
	}
	requests := s.store.Requests(ctx)
	comment := Comment{Content: content, AuthorID: authorID, CreatedAt: s.now()}
	if err := requests.AddComment(ctx, requestID, comment); err != nil {
		return nil, err
	}
	req, err := requests.Find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.notifyCommentAdded(req, comment)
	return req, nil
}

// View selects one of the visibility-scoped search modes.
type View string

const (
	ViewPending   View = "pending"
	ViewCivilian  View = "civilian"
	ViewPersonnel View = "personnel"
	ViewAll       View = "all"
)

// SearchRequests runs a permission-scoped search for the given user.
func (s *Service) SearchRequests(ctx context.Context, userID string, view View, term string, page Page) ([]*Request, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	builder := s.Filters(ctx)
	var f Filter
	switch view {
	case ViewPending:
		f = builder.PendingForUser(user, s.now())
		if f == nil {
			// No applicable approval grant: nothing can be pending for them.
			return []*Request{}, nil
		}
	case ViewCivilian:
		f, err = builder.PersonnelView(ctx, user, false)
	case ViewPersonnel:
		f, err = builder.PersonnelView(ctx, user, true)
	case ViewAll:
		f, err = builder.AllRequests(ctx, user)
	default:
		return nil, fmt.Errorf("%w: unknown view %q", ErrInvalidInput, view)
	}
	if err != nil {
		return nil, err
	}
	if term = strings.TrimSpace(term); term != "" {
		f = And{f, TextSearch(term)}
	}
	return s.store.Requests(ctx).Search(ctx, f, page.Clamp())
}

func knownPermission(p Permission) bool {
	for _, k := range KnownPermissions {
		if p == k {
			return true
		}
	}
	return false
}

func (s *Service) notifyRequestCreated(r *Request) {
	if s.notifier == nil {
		return
	}
	snapshot := r.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.RequestCreated(ctx, snapshot); err != nil {
			logNotifyFailure("request_created", snapshot.ID, err)
		}
	}()
}

func (s *Service) notifyStepChanged(r *Request, step RequestStep) {
	if s.notifier == nil {
		return
	}
	snapshot := r.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.StepChanged(ctx, snapshot, step); err != nil {
			logNotifyFailure("step_changed", snapshot.ID, err)
		}
	}()
}

func (s *Service) notifyCommentAdded(r *Request, c Comment) {
	if s.notifier == nil {
		return
	}
	snapshot := r.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.CommentAdded(ctx, snapshot, c); err != nil {
			logNotifyFailure("comment_added", snapshot.ID, err)
		}
	}()
}

func logNotifyFailure(event, requestID string, err error) {
	obs.LogRequest(map[string]any{
		"level":      "warn",
		"msg":        "notification failed",
		"event":      event,
		"request_id": requestID,
		"error":      err.Error(),
	})
}
