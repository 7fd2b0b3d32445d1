package clearance

import "context"

// TagEngine maintains the derived visibility index: after an organization's
// template changes, it recomputes which organizations may view requests
// originating there. Organizations holding a HUMAN step strictly earlier
// than the owner's own HUMAN step act as gatekeepers and gain visibility;
// organizations later in the chain do not. When the owner is not a HUMAN
// participant of its own template, every HUMAN participant gains visibility.
type TagEngine struct {
	store Store
}

// NewTagEngine constructs a TagEngine over the given store.
func NewTagEngine(store Store) *TagEngine {
	return &TagEngine{store: store}
}

// Recompute retracts the organization's id from every tag set, then re-tags
// according to the organization's current template. The retract and apply
// phases are separate per-organization writes, not one transaction; a
// concurrent template change on another organization may interleave, which
// is an accepted eventual-consistency window.
func (e *TagEngine) Recompute(ctx context.Context, org *Organization) error {
	orgs := e.store.Organizations(ctx)

	// Full retraction first: the new template may reference a smaller or
	// disjoint set of organizations than the old one.
	if err := orgs.RemoveTagEverywhere(ctx, org.ID); err != nil {
		return err
	}

	ownOrder := 0
	ownFound := false
	for _, st := range org.Workflow {
		if st.Type == StepHuman && st.OrganizationID == org.ID {
			ownOrder = st.Order
			ownFound = true
			break
		}
	}

	for _, st := range org.Workflow {
		if st.Type != StepHuman || st.OrganizationID == org.ID {
			continue
		}
		if ownFound && st.Order >= ownOrder {
			// Downstream-of-self steps are not granted visibility.
			continue
		}
		if err := orgs.AddTag(ctx, st.OrganizationID, org.ID); err != nil {
			return err
		}
	}
	return nil
}
