package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatepass.org/internal/clearance"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, password_hash, organization_id, is_admin, grants, created_at, updated_at`

func (s userStore) Create(ctx context.Context, u *clearance.User) error {
	grants, err := json.Marshal(orEmptyArray(u.Grants))
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, nullif($4,''), $5, $6, $7, $8)
	`, u.ID, u.Email, u.PasswordHash, u.OrganizationID, u.IsAdmin, grants, u.CreatedAt, u.UpdatedAt)
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

func (s userStore) Find(ctx context.Context, id string) (*clearance.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where id = $1
	`, id)
	return scanUser(row)
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*clearance.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s userStore) ListByOrganization(ctx context.Context, orgID string) ([]*clearance.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+` from users where organization_id = $1 order by email
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*clearance.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s userStore) SetGrants(ctx context.Context, userID string, grants []clearance.Grant) error {
	payload, err := json.Marshal(orEmptyArray(grants))
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update users set grants = $2, updated_at = now() where id = $1
	`, userID, payload)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func scanUser(row rowScanner) (*clearance.User, error) {
	var (
		u         clearance.User
		orgID     sql.NullString
		rawGrants []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &orgID, &u.IsAdmin,
		&rawGrants, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clearance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		u.OrganizationID = orgID.String
	}
	if len(rawGrants) > 0 {
		if err := json.Unmarshal(rawGrants, &u.Grants); err != nil {
			return nil, fmt.Errorf("decode grants: %w", err)
		}
	}
	return &u, nil
}

type visitorStore struct {
	db *sql.DB
}

func (s visitorStore) Find(ctx context.Context, id string) (*clearance.Visitor, error) {
	var v clearance.Visitor
	err := s.db.QueryRowContext(ctx, `
		select id, first_name, last_name, company, created_at
		from visitors where id = $1
	`, id).Scan(&v.ID, &v.FirstName, &v.LastName, &v.Company, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clearance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s visitorStore) CreateIfAbsent(ctx context.Context, v *clearance.Visitor) (*clearance.Visitor, error) {
	// The existing record wins on conflict; the read afterwards returns
	// whichever row survived.
	if _, err := s.db.ExecContext(ctx, `
		insert into visitors (id, first_name, last_name, company, created_at)
		values ($1, $2, $3, $4, now())
		on conflict (id) do nothing
	`, v.ID, v.FirstName, v.LastName, v.Company); err != nil {
		return nil, err
	}
	return s.Find(ctx, v.ID)
}
