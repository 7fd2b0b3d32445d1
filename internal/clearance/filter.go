package clearance

import (
	"context"
	"strings"
	"time"
)

// Filter is a predicate over requests. Filters are small composable values;
// stores evaluate Match in memory and may additionally inspect the concrete
// types to narrow their queries.
type Filter interface {
	Match(r *Request) bool
}

// And matches when every child filter matches.
type And []Filter

func (f And) Match(r *Request) bool {
	for _, c := range f {
		if !c.Match(r) {
			return false
		}
	}
	return true
}

// Or matches when at least one child filter matches.
type Or []Filter

func (f Or) Match(r *Request) bool {
	for _, c := range f {
		if c.Match(r) {
			return true
		}
	}
	return false
}

// OrgIn matches requests created under one of the listed organizations.
type OrgIn []string

func (f OrgIn) Match(r *Request) bool {
	for _, id := range f {
		if r.OrganizationID == id {
			return true
		}
	}
	return false
}

// StatusIs matches on the aggregate status.
type StatusIs Status

func (f StatusIs) Match(r *Request) bool { return r.Status == Status(f) }

// IsPersonnel matches on the personnel/civilian distinction.
type IsPersonnel bool

func (f IsPersonnel) Match(r *Request) bool { return r.IsPersonnel == bool(f) }

// EndDateNotBefore matches requests whose end date is at or after the cutoff.
type EndDateNotBefore time.Time

func (f EndDateNotBefore) Match(r *Request) bool { return !r.EndDate.Before(time.Time(f)) }

// TextSearch matches a case-insensitive term against the request's free-text
// fields and visitor identifier.
type TextSearch string

func (f TextSearch) Match(r *Request) bool {
	term := strings.ToLower(strings.TrimSpace(string(f)))
	if term == "" {
		return true
	}
	for _, field := range []string{r.Description, r.PhoneNumber, r.AssetIdentifier, r.VisitorID} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// HasPendingStep matches requests containing at least one pending step owned
// by the given organization with one of the listed types. Personnel, when
// set, additionally constrains the request's personnel/civilian kind.
type HasPendingStep struct {
	OrganizationID string
	Types          []StepType
	Personnel      *bool
}

func (f HasPendingStep) Match(r *Request) bool {
	for i := range r.Workflow {
		if f.MatchesStep(r, &r.Workflow[i]) {
			return true
		}
	}
	return false
}

// MatchesStep reports whether one concrete step satisfies the clause. Used
// directly by the bulk engine to collect step ids.
func (f HasPendingStep) MatchesStep(r *Request, s *RequestStep) bool {
	if s.Status != StatusPending {
		return false
	}
	if s.OrganizationID != f.OrganizationID {
		return false
	}
	typeOK := false
	for _, t := range f.Types {
		if s.Type == t {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	if f.Personnel != nil && s.Type == StepHuman && r.IsPersonnel != *f.Personnel {
		return false
	}
	return true
}

// pendingCutoff is how far past its end date a request stays actionable.
const pendingCutoff = 24 * time.Hour

// FilterBuilder translates a user's permission grants into request filters.
type FilterBuilder struct {
	orgs OrganizationStore
}

// NewFilterBuilder constructs a FilterBuilder over the organization store.
func NewFilterBuilder(orgs OrganizationStore) *FilterBuilder {
	return &FilterBuilder{orgs: orgs}
}

// ViewableOrganizations returns the ids of the organizations whose requests
// the user may see: the user's own organization plus every tagged
// organization that either shows its requests by default or for which the
// user holds VIEW_REQUESTS.
func (b *FilterBuilder) ViewableOrganizations(ctx context.Context, user *User) ([]string, error) {
	if user == nil || user.OrganizationID == "" {
		return nil, ErrNoOrganization
	}
	own, err := b.orgs.Find(ctx, user.OrganizationID)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNoOrganization
		}
		return nil, err
	}
	// The user's own organization is always viewable, regardless of its
	// ShowRequests flag.
	ids := []string{own.ID}
	for _, tag := range own.Tags {
		if tag == own.ID {
			continue
		}
		tagged, err := b.orgs.Find(ctx, tag)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		if tagged.ShowRequests || userHoldsForOrg(user, tag, PermViewRequests) {
			ids = append(ids, tag)
		}
	}
	return ids, nil
}

// AllRequests builds the filter for the unrestricted visibility view.
// A user without an organization yields ErrNoOrganization ("no result",
// distinct from an empty result).
func (b *FilterBuilder) AllRequests(ctx context.Context, user *User) (Filter, error) {
	viewable, err := b.ViewableOrganizations(ctx, user)
	if err != nil {
		return nil, err
	}
	return OrgIn(viewable), nil
}

// PersonnelView builds the visibility filter restricted to personnel or
// civilian requests.
func (b *FilterBuilder) PersonnelView(ctx context.Context, user *User, personnel bool) (Filter, error) {
	viewable, err := b.ViewableOrganizations(ctx, user)
	if err != nil {
		return nil, err
	}
	return And{OrgIn(viewable), IsPersonnel(personnel)}, nil
}

// PendingForUser builds the "pending for me" filter: pending requests whose
// end date has not lapsed by more than a day, containing at least one pending
// step the user may approve. Returns nil when the user holds no applicable
// approval grant.
func (b *FilterBuilder) PendingForUser(user *User, now time.Time) Filter {
	clauses := stepClausesFor(user)
	if len(clauses) == 0 {
		return nil
	}
	var stepFilter Filter
	if len(clauses) == 1 {
		stepFilter = clauses[0]
	} else {
		or := make(Or, len(clauses))
		for i, c := range clauses {
			or[i] = c
		}
		stepFilter = or
	}
	return And{
		StatusIs(StatusPending),
		EndDateNotBefore(now.Add(-pendingCutoff)),
		stepFilter,
	}
}

// stepClausesFor derives one pending-step clause per APPROVE_* grant. A grant
// holding both personnel and civilian approval covers human steps of either
// kind; holding only one constrains the request's personnel flag.
func stepClausesFor(user *User) []HasPendingStep {
	if user == nil {
		return nil
	}
	var clauses []HasPendingStep
	for _, g := range user.Grants {
		personnel := grantHas(g, PermApprovePersonnel)
		civilian := grantHas(g, PermApproveCivilian)
		asset := grantHas(g, PermApproveAsset)

		var types []StepType
		var personnelConstraint *bool
		if personnel || civilian {
			types = append(types, StepHuman)
			if personnel != civilian {
				v := personnel
				personnelConstraint = &v
			}
		}
		if asset {
			types = append(types, StepAsset)
		}
		if len(types) == 0 {
			continue
		}
		// An asset grant combined with a single human kind still needs the
		// personnel constraint to apply to human steps only; MatchesStep
		// checks it for HUMAN steps exclusively.
		clauses = append(clauses, HasPendingStep{
			OrganizationID: g.OrganizationID,
			Types:          types,
			Personnel:      personnelConstraint,
		})
	}
	return clauses
}

func grantHas(g Grant, p Permission) bool {
	for _, have := range g.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

func userHoldsForOrg(user *User, orgID string, p Permission) bool {
	if user.IsAdmin {
		return true
	}
	for _, g := range user.Grants {
		if g.OrganizationID == orgID && grantHas(g, p) {
			return true
		}
	}
	return false
}
