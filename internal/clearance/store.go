package clearance

import "context"

// Store describes persistence operations required by the clearance core.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	Requests(ctx context.Context) RequestStore
	Users(ctx context.Context) UserStore
	Visitors(ctx context.Context) VisitorStore
}

// OrganizationStore manages organizations, their templates and tag sets.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
	// Update replaces the stored organization, including its workflow.
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id string) error

	// Tag writes are per-organization atomic operations; the tag engine
	// issues them as a retract-then-apply pair without a global transaction.
	RemoveTagEverywhere(ctx context.Context, tag string) error
	AddTag(ctx context.Context, orgID, tag string) error
}

// RequestStore manages requests and their embedded workflow snapshots.
type RequestStore interface {
	Create(ctx context.Context, req *Request) error
	Find(ctx context.Context, id string) (*Request, error)
	// FindByStep locates the request containing the given step id.
	FindByStep(ctx context.Context, stepID string) (*Request, error)
	// UpdateStep overwrites a single step within its request.
	UpdateStep(ctx context.Context, requestID string, step RequestStep) error
	// SetStatus blindly overwrites the aggregate status keyed by request id.
	SetStatus(ctx context.Context, requestID string, status Status) error
	// Update replaces non-workflow fields; workflow and organization are
	// immutable after creation.
	Update(ctx context.Context, req *Request) error
	Delete(ctx context.Context, id string) error
	AddComment(ctx context.Context, requestID string, c Comment) error
	Search(ctx context.Context, f Filter, page Page) ([]*Request, error)
}

// UserStore manages operator accounts and their permission grants.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*User, error)
	SetGrants(ctx context.Context, userID string, grants []Grant) error
}

// VisitorStore manages visitor records keyed by external identifier.
type VisitorStore interface {
	Find(ctx context.Context, id string) (*Visitor, error)
	// CreateIfAbsent stores the visitor unless one already exists; the
	// existing record wins on conflict and is returned unchanged.
	CreateIfAbsent(ctx context.Context, v *Visitor) (*Visitor, error)
}

// Page bounds a search result window.
type Page struct {
	Limit  int
	Offset int
}

// Clamp normalizes the page the way list endpoints expect.
func (p Page) Clamp() Page {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
