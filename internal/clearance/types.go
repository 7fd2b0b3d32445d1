package clearance

import (
	"errors"
	"time"
)

// StepType identifies the clearance kind a workflow step performs.
type StepType string

const (
	// StepHuman is a personnel-clearance checkpoint.
	StepHuman StepType = "HUMAN"
	// StepAsset is a vehicle/asset-clearance checkpoint.
	StepAsset StepType = "ASSET"
)

// Status is the approval state of a single step or of a whole request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// AssetKind declares whether a request brings an asset on site and who owns it.
type AssetKind string

const (
	AssetNone     AssetKind = "NONE"
	AssetPrivate  AssetKind = "PRIVATE"
	AssetOrgOwned AssetKind = "ORG_OWNED"
)

// Permission is a fine-grained capability scoped to one organization.
type Permission string

const (
	PermEditWorkflow        Permission = "EDIT_WORKFLOW"
	PermDeleteRequest       Permission = "DELETE_REQUEST"
	PermApproveCivilian     Permission = "APPROVE_CIVILIAN"
	PermApprovePersonnel    Permission = "APPROVE_PERSONNEL"
	PermApproveAsset        Permission = "APPROVE_ASSET"
	PermEditUserPermissions Permission = "EDIT_USER_PERMISSIONS"
	PermEditVisitorDetails  Permission = "EDIT_VISITOR_DETAILS"
	PermViewRequests        Permission = "VIEW_REQUESTS"
	PermCreateRequests      Permission = "CREATE_REQUESTS"
)

// KnownPermissions enumerates every grantable permission kind.
var KnownPermissions = []Permission{
	PermEditWorkflow,
	PermDeleteRequest,
	PermApproveCivilian,
	PermApprovePersonnel,
	PermApproveAsset,
	PermEditUserPermissions,
	PermEditVisitorDetails,
	PermViewRequests,
	PermCreateRequests,
}

// Organization owns a workflow template and a derived visibility tag set.
type Organization struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Workflow          []WorkflowStep `json:"workflow"`
	Tags              []string       `json:"tags"` // derived org ids, never user-edited
	ShowRequests      bool           `json:"show_requests"`
	CanCreateRequests bool           `json:"can_create_requests"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// WorkflowStep is one approval checkpoint in an organization's template.
type WorkflowStep struct {
	Order            int      `json:"order"`
	Type             StepType `json:"type"`
	OrganizationID   string   `json:"organization_id"`
	OrganizationName string   `json:"organization_name,omitempty"`
}

// RequestStep is the materialized, mutable copy of a WorkflowStep inside one
// request. Structure is fixed at snapshot time; only status and the
// transition-time fields change afterwards.
type RequestStep struct {
	ID                 string     `json:"id"`
	Order              int        `json:"order"`
	Type               StepType   `json:"type"`
	OrganizationID     string     `json:"organization_id"`
	Status             Status     `json:"status"`
	AuthorizerID       string     `json:"authorizer_id,omitempty"`
	LastChangeDate     *time.Time `json:"last_change_date,omitempty"`
	SecurityClearance  *int       `json:"security_clearance,omitempty"` // 0-5
	ConfirmationNumber string     `json:"confirmation_number,omitempty"`
	NeedsEscort        *bool      `json:"needs_escort,omitempty"`
	NeedsTag           *bool      `json:"needs_tag,omitempty"`
}

// Comment is one append-only remark on a request.
type Comment struct {
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Request is a visitor/asset clearance request routed through a snapshotted
// approval chain.
type Request struct {
	ID              string        `json:"id"`
	RequestDate     time.Time     `json:"request_date"`
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	Description     string        `json:"description,omitempty"`
	PhoneNumber     string        `json:"phone_number,omitempty"`
	VisitorID       string        `json:"visitor_id"`
	RequestorID     string        `json:"requestor_id"`
	OrganizationID  string        `json:"organization_id"`
	IsPersonnel     bool          `json:"is_personnel"`
	HasAsset        AssetKind     `json:"has_asset"`
	AssetIdentifier string        `json:"asset_identifier,omitempty"`
	NeedsEscort     bool          `json:"needs_escort"`
	Workflow        []RequestStep `json:"workflow"`
	Status          Status        `json:"status"`
	Comments        []Comment     `json:"comments,omitempty"`
}

// Visitor is the external person (or asset owner) a request clears.
type Visitor struct {
	ID        string    `json:"id"` // external identifier, unique
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Grant is a user's set of permission kinds scoped to one organization.
type Grant struct {
	OrganizationID string       `json:"organization_id"`
	Permissions    []Permission `json:"permissions"`
}

// User is an operator account with per-organization permission grants.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	OrganizationID string    `json:"organization_id,omitempty"`
	IsAdmin        bool      `json:"is_admin"`
	Grants         []Grant   `json:"grants,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	ErrNotFound     = errors.New("clearance: not found")
	ErrInvalidInput = errors.New("clearance: invalid input")
	ErrDuplicate    = errors.New("clearance: already exists")

	// ErrWorkflowNotAssigned is returned when a request is created under an
	// organization that has no approval path defined yet. The message is
	// stable; callers distinguish it from generic validation failures.
	ErrWorkflowNotAssigned = errors.New("clearance: workflow not assigned to organization yet")

	// ErrCreationDisabled is returned when the organization opted out of new
	// requests.
	ErrCreationDisabled = errors.New("clearance: organization does not accept new requests")

	// ErrNoOrganization distinguishes "no result" from an empty result for
	// the all-requests view of a user without an organization.
	ErrNoOrganization = errors.New("clearance: user has no organization assigned")
)

const personnelIDMaxLen = 7

// IsPersonnelID reports whether a visitor identifier has the short
// alphanumeric shape of a service/personnel id. Longer identifiers (civil
// registry numbers) denote civilians.
func IsPersonnelID(id string) bool {
	if len(id) == 0 || len(id) > personnelIDMaxLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the organization.
func (o *Organization) Clone() *Organization {
	if o == nil {
		return nil
	}
	out := *o
	out.Workflow = append([]WorkflowStep(nil), o.Workflow...)
	out.Tags = append([]string(nil), o.Tags...)
	return &out
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Workflow = make([]RequestStep, len(r.Workflow))
	for i, s := range r.Workflow {
		out.Workflow[i] = *s.clone()
	}
	out.Comments = append([]Comment(nil), r.Comments...)
	return &out
}

func (s *RequestStep) clone() *RequestStep {
	out := *s
	if s.LastChangeDate != nil {
		t := *s.LastChangeDate
		out.LastChangeDate = &t
	}
	if s.SecurityClearance != nil {
		v := *s.SecurityClearance
		out.SecurityClearance = &v
	}
	if s.NeedsEscort != nil {
		v := *s.NeedsEscort
		out.NeedsEscort = &v
	}
	if s.NeedsTag != nil {
		v := *s.NeedsTag
		out.NeedsTag = &v
	}
	return &out
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Grants = make([]Grant, len(u.Grants))
	for i, g := range u.Grants {
		out.Grants[i] = Grant{
			OrganizationID: g.OrganizationID,
			Permissions:    append([]Permission(nil), g.Permissions...),
		}
	}
	return &out
}
