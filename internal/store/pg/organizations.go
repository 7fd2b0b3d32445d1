package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatepass.org/internal/clearance"
)

type orgStore struct {
	db *sql.DB
}

func (s orgStore) Create(ctx context.Context, org *clearance.Organization) error {
	workflow, err := json.Marshal(orEmptyArray(org.Workflow))
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	tags, err := json.Marshal(orEmptyArray(org.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into organizations (id, name, workflow, tags, show_requests, can_create_requests, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, org.ID, org.Name, workflow, tags, org.ShowRequests, org.CanCreateRequests, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return clearance.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s orgStore) Find(ctx context.Context, id string) (*clearance.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, workflow, tags, show_requests, can_create_requests, created_at, updated_at
		from organizations
		where id = $1
	`, id)
	return scanOrganization(row)
}

func (s orgStore) List(ctx context.Context) ([]*clearance.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, workflow, tags, show_requests, can_create_requests, created_at, updated_at
		from organizations
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*clearance.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s orgStore) Update(ctx context.Context, org *clearance.Organization) error {
	workflow, err := json.Marshal(orEmptyArray(org.Workflow))
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	// Tags are maintained through the dedicated tag operations only.
	res, err := s.db.ExecContext(ctx, `
		update organizations
		set name = $2, workflow = $3, show_requests = $4, can_create_requests = $5, updated_at = $6
		where id = $1
	`, org.ID, org.Name, workflow, org.ShowRequests, org.CanCreateRequests, org.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return clearance.ErrDuplicate
		}
		return err
	}
	return mustAffect(res)
}

func (s orgStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from organizations where id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s orgStore) RemoveTagEverywhere(ctx context.Context, tag string) error {
	// jsonb minus text removes the matching string element from the array.
	_, err := s.db.ExecContext(ctx, `
		update organizations
		set tags = tags - $1
		where tags ? $1
	`, tag)
	return err
}

func (s orgStore) AddTag(ctx context.Context, orgID, tag string) error {
	res, err := s.db.ExecContext(ctx, `
		update organizations
		set tags = case when tags ? $2 then tags else tags || to_jsonb($2::text) end
		where id = $1
	`, orgID, tag)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*clearance.Organization, error) {
	var (
		org         clearance.Organization
		rawWorkflow []byte
		rawTags     []byte
	)
	err := row.Scan(&org.ID, &org.Name, &rawWorkflow, &rawTags,
		&org.ShowRequests, &org.CanCreateRequests, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clearance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(rawWorkflow) > 0 {
		if err := json.Unmarshal(rawWorkflow, &org.Workflow); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
	}
	if len(rawTags) > 0 {
		if err := json.Unmarshal(rawTags, &org.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &org, nil
}

func mustAffect(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return clearance.ErrNotFound
	}
	return nil
}

// orEmptyArray keeps jsonb columns as [] instead of null for nil slices.
func orEmptyArray[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
