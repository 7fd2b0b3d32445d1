package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatepass.org/internal/clearance"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store is the Postgres-backed clearance store. Nested documents (workflow
// snapshots, tag sets, grants, comments) live in jsonb columns.
type Store struct {
	db *sql.DB
}

var _ clearance.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Organizations(ctx context.Context) clearance.OrganizationStore {
	return orgStore{db: s.db}
}

func (s *Store) Requests(ctx context.Context) clearance.RequestStore {
	return requestStore{db: s.db}
}

func (s *Store) Users(ctx context.Context) clearance.UserStore {
	return userStore{db: s.db}
}

func (s *Store) Visitors(ctx context.Context) clearance.VisitorStore {
	return visitorStore{db: s.db}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
