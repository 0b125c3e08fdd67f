package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"intake-agent/internal/domain"
	logx "intake-agent/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	selectSessionSQL = `SELECT snapshot, version FROM sessions WHERE id = $1`
	insertSessionSQL = `INSERT INTO sessions (id, stage, snapshot, version, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
	updateSessionSQL = `UPDATE sessions
SET stage = $2, snapshot = $3, version = $4, updated_at = $5
WHERE id = $1 AND version = $6`
)

// postgresAPI is the subset of *sql.DB used by PostgresStore.
type postgresAPI interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps one row per session with the snapshot as JSONB.
type PostgresStore struct {
	db postgresAPI
}

func NewPostgresStore(db postgresAPI) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &PostgresStore{db: db}, nil
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return db, nil
}

// MigratePostgres applies the embedded schema migrations.
func MigratePostgres(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("repository: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("repository: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("repository: migrate init: %w", err)
	}
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("repository: migrate up: %w", err)
	}
	logx.Info().Msg("postgres migrations applied")
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logx.Debug().Msgf(strings.TrimSuffix(format, "\n"), v...)
}

func (migrateLogger) Verbose() bool { return false }

func (p *PostgresStore) Load(ctx context.Context, id string) (domain.Session, error) {
	var (
		raw     []byte
		version int64
	)
	err := p.db.QueryRowContext(ctx, selectSessionSQL, id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: postgres select: %w", err)
	}
	return decodeSnapshot(raw, version)
}

// Save inserts version 1 and otherwise updates only when the stored version is the previous one.
func (p *PostgresStore) Save(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}
	if s.Version < 1 {
		return fmt.Errorf("repository: Save: invalid version %d", s.Version)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("repository: postgres encode: %w", err)
	}

	var res sql.Result
	if s.Version == 1 {
		res, err = p.db.ExecContext(ctx, insertSessionSQL, s.ID, string(s.Stage), raw, s.Version, s.UpdatedAt)
	} else {
		res, err = p.db.ExecContext(ctx, updateSessionSQL, s.ID, string(s.Stage), raw, s.Version, s.UpdatedAt, s.Version-1)
	}
	if err != nil {
		return fmt.Errorf("repository: postgres save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: postgres rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func decodeSnapshot(raw []byte, version int64) (domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, fmt.Errorf("repository: postgres decode: %w", err)
	}
	s.Version = version
	return s, nil
}
