package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

// validKinds matches the CHECK constraint on the audit_events table.
var validKinds = map[Kind]bool{
	KindJoin:           true,
	KindLeave:          true,
	KindRejected:       true,
	KindMute:           true,
	KindBan:            true,
	KindJoinDenied:     true,
	KindPersistFailure: true,
}

// Migrate applies the embedded migrations to the database at databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("audit: init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate up: %w", err)
	}
	return nil
}

// Store persists audit entries in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping db: %w", err)
	}
	return db, nil
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores one entry. The kind is validated before insertion.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if !validKinds[e.Kind] {
		return fmt.Errorf("audit: invalid kind %q", e.Kind)
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	const query = `
		INSERT INTO audit_events (kind, nickname, ip, reason, seconds, count, server, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		string(e.Kind), e.Nickname, e.IP, e.Reason, e.Seconds, e.Count, e.Server, e.Time)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of entries of kind recorded for ip within
// window.
func (s *Store) CountRecent(ctx context.Context, ip string, kind Kind, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM audit_events
		WHERE ip = $1
		  AND kind = $2
		  AND occurred_at >= NOW() - make_interval(secs => $3)`

	var count int
	err := s.db.QueryRowContext(ctx, query, ip, string(kind), window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}
