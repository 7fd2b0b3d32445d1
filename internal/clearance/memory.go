package clearance

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemory is a map-backed Store used by tests and as a fallback when no
// database is configured. All reads and writes deep-copy, so callers never
// alias stored state.
type InMemory struct {
	mu       sync.RWMutex
	orgs     map[string]*Organization
	requests map[string]*Request
	users    map[string]*User
	visitors map[string]*Visitor
}

var _ Store = (*InMemory)(nil)

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:     make(map[string]*Organization),
		requests: make(map[string]*Request),
		users:    make(map[string]*User),
		visitors: make(map[string]*Visitor),
	}
}

func (m *InMemory) Organizations(ctx context.Context) OrganizationStore { return (*memOrgs)(m) }
func (m *InMemory) Requests(ctx context.Context) RequestStore           { return (*memRequests)(m) }
func (m *InMemory) Users(ctx context.Context) UserStore                 { return (*memUsers)(m) }
func (m *InMemory) Visitors(ctx context.Context) VisitorStore           { return (*memVisitors)(m) }

type memOrgs InMemory

func (m *memOrgs) Create(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.orgs {
		if strings.EqualFold(existing.Name, org.Name) {
			return ErrDuplicate
		}
	}
	m.orgs[org.ID] = org.Clone()
	return nil
}

func (m *memOrgs) Find(ctx context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return org.Clone(), nil
}

func (m *memOrgs) List(ctx context.Context) ([]*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Organization, 0, len(m.orgs))
	for _, org := range m.orgs {
		out = append(out, org.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memOrgs) Update(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orgs[org.ID]
	if !ok {
		return ErrNotFound
	}
	next := org.Clone()
	// Tags are maintained through the dedicated tag operations only.
	next.Tags = append([]string(nil), stored.Tags...)
	m.orgs[org.ID] = next
	return nil
}

func (m *memOrgs) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(m.orgs, id)
	return nil
}

func (m *memOrgs) RemoveTagEverywhere(ctx context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		kept := org.Tags[:0]
		for _, t := range org.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		org.Tags = kept
	}
	return nil
}

func (m *memOrgs) AddTag(ctx context.Context, orgID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return ErrNotFound
	}
	for _, t := range org.Tags {
		if t == tag {
			return nil
		}
	}
	org.Tags = append(org.Tags, tag)
	return nil
}

type memRequests InMemory

func (m *memRequests) Create(ctx context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return ErrDuplicate
	}
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *memRequests) Find(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

func (m *memRequests) FindByStep(ctx context.Context, stepID string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, req := range m.requests {
		for i := range req.Workflow {
			if req.Workflow[i].ID == stepID {
				return req.Clone(), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *memRequests) UpdateStep(ctx context.Context, requestID string, step RequestStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	for i := range req.Workflow {
		if req.Workflow[i].ID == step.ID {
			req.Workflow[i] = *step.clone()
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRequests) SetStatus(ctx context.Context, requestID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	return nil
}

func (m *memRequests) Update(ctx context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	next := req.Clone()
	// The snapshot, aggregate status and comment log have their own write
	// paths; a plain update never touches them.
	next.OrganizationID = stored.OrganizationID
	next.Status = stored.Status
	next.Workflow = make([]RequestStep, len(stored.Workflow))
	for i, s := range stored.Workflow {
		next.Workflow[i] = *s.clone()
	}
	next.Comments = append([]Comment(nil), stored.Comments...)
	m.requests[req.ID] = next
	return nil
}

func (m *memRequests) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *memRequests) AddComment(ctx context.Context, requestID string, c Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	req.Comments = append(req.Comments, c)
	return nil
}

func (m *memRequests) Search(ctx context.Context, f Filter, page Page) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page = page.Clamp()

	matched := make([]*Request, 0)
	for _, req := range m.requests {
		if f == nil || f.Match(req) {
			matched = append(matched, req)
		}
	}
	// Newest first, id as tiebreaker for a stable order.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RequestDate.Equal(matched[j].RequestDate) {
			return matched[i].RequestDate.After(matched[j].RequestDate)
		}
		return matched[i].ID > matched[j].ID
	})

	if page.Offset >= len(matched) {
		return []*Request{}, nil
	}
	matched = matched[page.Offset:]
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	out := make([]*Request, len(matched))
	for i, req := range matched {
		out[i] = req.Clone()
	}
	return out, nil
}

type memUsers InMemory

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ListByOrganization(ctx context.Context, orgID string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0)
	for _, u := range m.users {
		if u.OrganizationID == orgID {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memUsers) SetGrants(ctx context.Context, userID string, grants []Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Grants = make([]Grant, len(grants))
	for i, g := range grants {
		u.Grants[i] = Grant{
			OrganizationID: g.OrganizationID,
			Permissions:    append([]Permission(nil), g.Permissions...),
		}
	}
	return nil
}

type memVisitors InMemory

func (m *memVisitors) Find(ctx context.Context, id string) (*Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

func (m *memVisitors) CreateIfAbsent(ctx context.Context, v *Visitor) (*Visitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.visitors[v.ID]; ok {
		out := *existing
		return &out, nil
	}
	stored := *v
	m.visitors[v.ID] = &stored
	out := stored
	return &out, nil
}
