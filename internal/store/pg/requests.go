package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatepass.org/internal/clearance"
)

type requestStore struct {
	db *sql.DB
}

const requestColumns = `id, request_date, start_date, end_date, description, phone_number,
	visitor_id, requestor_id, organization_id, is_personnel, has_asset, asset_identifier,
	needs_escort, status, workflow, comments`

func (s requestStore) Create(ctx context.Context, req *clearance.Request) error {
	workflow, err := json.Marshal(orEmptyArray(req.Workflow))
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	comments, err := json.Marshal(orEmptyArray(req.Comments))
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into requests (`+requestColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, req.ID, req.RequestDate, req.StartDate, req.EndDate, req.Description, req.PhoneNumber,
		req.VisitorID, req.RequestorID, req.OrganizationID, req.IsPersonnel, string(req.HasAsset),
		req.AssetIdentifier, req.NeedsEscort, string(req.Status), workflow, comments)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return clearance.ErrDuplicate
			case pgErrForeignKeyViolation:
				return clearance.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s requestStore) Find(ctx context.Context, id string) (*clearance.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+` from requests where id = $1
	`, id)
	return scanRequest(row)
}

func (s requestStore) FindByStep(ctx context.Context, stepID string) (*clearance.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+` from requests
		where exists (
			select 1 from jsonb_array_elements(workflow) step
			where step->>'id' = $1
		)
	`, stepID)
	return scanRequest(row)
}

// UpdateStep rewrites the single matching element of the workflow snapshot
// under a row lock, so concurrent transitions on sibling steps never clobber
// each other.
func (s requestStore) UpdateStep(ctx context.Context, requestID string, step clearance.RequestStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var rawWorkflow []byte
	err = tx.QueryRowContext(ctx, `
		select workflow from requests where id = $1 for update
	`, requestID).Scan(&rawWorkflow)
	if errors.Is(err, sql.ErrNoRows) {
		return clearance.ErrNotFound
	}
	if err != nil {
		return err
	}

	var steps []clearance.RequestStep
	if len(rawWorkflow) > 0 {
		if err := json.Unmarshal(rawWorkflow, &steps); err != nil {
			return fmt.Errorf("decode workflow: %w", err)
		}
	}
	found := false
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = step
			found = true
			break
		}
	}
	if !found {
		return clearance.ErrNotFound
	}

	next, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		update requests set workflow = $2 where id = $1
	`, requestID, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s requestStore) SetStatus(ctx context.Context, requestID string, status clearance.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update requests set status = $2 where id = $1
	`, requestID, string(status))
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s requestStore) Update(ctx context.Context, req *clearance.Request) error {
	// Snapshot, aggregate status and comments have dedicated write paths.
	res, err := s.db.ExecContext(ctx, `
		update requests
		set start_date = $2, end_date = $3, description = $4, phone_number = $5,
		    asset_identifier = $6, needs_escort = $7
		where id = $1
	`, req.ID, req.StartDate, req.EndDate, req.Description, req.PhoneNumber,
		req.AssetIdentifier, req.NeedsEscort)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s requestStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from requests where id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s requestStore) AddComment(ctx context.Context, requestID string, c clearance.Comment) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal comment: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update requests set comments = comments || $2::jsonb where id = $1
	`, requestID, payload)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// Search narrows on organization and aggregate status when the filter tree
// exposes them at the top level, then evaluates the full predicate over the
// scanned rows. Pagination applies after the in-memory pass so both layers
// agree on what counts as a match.
func (s requestStore) Search(ctx context.Context, f clearance.Filter, page clearance.Page) ([]*clearance.Request, error) {
	page = page.Clamp()

	query := `select ` + requestColumns + ` from requests`
	var (
		where []string
		args  []any
	)
	orgIDs, status := narrowing(f)
	if len(orgIDs) > 0 {
		placeholders := ""
		for _, id := range orgIDs {
			if placeholders != "" {
				placeholders += ","
			}
			args = append(args, id)
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "organization_id in ("+placeholders+")")
	}
	if status != "" {
		args = append(args, string(status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, w := range where {
		if i == 0 {
			query += " where " + w
		} else {
			query += " and " + w
		}
	}
	query += " order by request_date desc, id desc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matched := make([]*clearance.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		if f == nil || f.Match(req) {
			matched = append(matched, req)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if page.Offset >= len(matched) {
		return []*clearance.Request{}, nil
	}
	matched = matched[page.Offset:]
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// narrowing extracts organization and status constraints from the top of the
// filter tree. And nodes are walked; Or nodes and leaf predicates stay
// in-memory only.
func narrowing(f clearance.Filter) ([]string, clearance.Status) {
	switch v := f.(type) {
	case clearance.OrgIn:
		return []string(v), ""
	case clearance.StatusIs:
		return nil, clearance.Status(v)
	case clearance.And:
		var orgs []string
		var status clearance.Status
		for _, child := range v {
			o, s := narrowing(child)
			if len(o) > 0 {
				orgs = o
			}
			if s != "" {
				status = s
			}
		}
		return orgs, status
	default:
		return nil, ""
	}
}

func scanRequest(row rowScanner) (*clearance.Request, error) {
	var (
		req         clearance.Request
		hasAsset    string
		status      string
		rawWorkflow []byte
		rawComments []byte
	)
	err := row.Scan(&req.ID, &req.RequestDate, &req.StartDate, &req.EndDate,
		&req.Description, &req.PhoneNumber, &req.VisitorID, &req.RequestorID,
		&req.OrganizationID, &req.IsPersonnel, &hasAsset, &req.AssetIdentifier,
		&req.NeedsEscort, &status, &rawWorkflow, &rawComments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clearance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	req.HasAsset = clearance.AssetKind(hasAsset)
	req.Status = clearance.Status(status)
	if len(rawWorkflow) > 0 {
		if err := json.Unmarshal(rawWorkflow, &req.Workflow); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
	}
	if len(rawComments) > 0 {
		if err := json.Unmarshal(rawComments, &req.Comments); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
	}
	return &req, nil
}
