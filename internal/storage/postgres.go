package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	_ Storage = (*PostgresStorage)(nil)
	_ Sweeper = (*PostgresStorage)(nil)
)

type stateRow struct {
	State        string         `db:"state"`
	AccessToken  sql.NullString `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	IDToken      sql.NullString `db:"id_token"`
}

func (r stateRow) toState() *AuthenticationState {
	return &AuthenticationState{
		State:        r.State,
		AccessToken:  r.AccessToken.String,
		RefreshToken: r.RefreshToken.String,
		IDToken:      r.IDToken.String,
	}
}

// PostgresStorage keeps handshake records in one table. Pop is a single
// DELETE ... RETURNING guarded by the refresh token, so the row lock decides
// the winner among concurrent callers.
type PostgresStorage struct {
	db    *sqlx.DB
	table string
	ttl   time.Duration
}

// OpenPostgres connects with the lib/pq driver
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStorage(db *sqlx.DB, table string, ttl time.Duration) (*PostgresStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	return &PostgresStorage{db: db, table: pq.QuoteIdentifier(table), ttl: ttl}, nil
}

// EnsureSchema creates the state table when it does not exist yet
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	state         TEXT PRIMARY KEY,
	access_token  TEXT,
	refresh_token TEXT,
	id_token      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return backendError("create state table", err)
	}
	return nil
}

func (s *PostgresStorage) expiresAt() sql.NullTime {
	exp := expiry(time.Now(), s.ttl)
	return sql.NullTime{Time: exp, Valid: !exp.IsZero()}
}

func (s *PostgresStorage) Create(ctx context.Context, stateID string) (*AuthenticationState, error) {
	query := fmt.Sprintf(`INSERT INTO %s (state, expires_at) VALUES ($1, $2)
ON CONFLICT (state) DO UPDATE SET access_token = NULL, refresh_token = NULL, id_token = NULL, expires_at = EXCLUDED.expires_at`, s.table)
	if _, err := s.db.ExecContext(ctx, query, stateID, s.expiresAt()); err != nil {
		return nil, backendError("create state", err)
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *PostgresStorage) Get(ctx context.Context, stateID string) (*AuthenticationState, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE state = $1 AND (expires_at IS NULL OR expires_at > now())`, s.table)
	var id string
	err := s.db.GetContext(ctx, &id, query, stateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, backendError("get state", err)
	}
	return &AuthenticationState{State: id}, nil
}

func (s *PostgresStorage) Update(ctx context.Context, state *AuthenticationState) error {
	query := fmt.Sprintf(`UPDATE %s SET access_token = $2, refresh_token = $3, id_token = $4
WHERE state = $1 AND (expires_at IS NULL OR expires_at > now())`, s.table)
	res, err := s.db.ExecContext(ctx, query, state.State, state.AccessToken, state.RefreshToken, state.IDToken)
	if err != nil {
		return backendError("update state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendError("update state", err)
	}
	if n == 0 {
		return ErrStateNotFound
	}
	return nil
}

func (s *PostgresStorage) Pop(ctx context.Context, stateID, refreshToken string) (*AuthenticationState, error) {
	if refreshToken == "" {
		return nil, ErrPopConditionFailed
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE state = $1 AND refresh_token = $2
RETURNING state, access_token, refresh_token, id_token`, s.table)
	var row stateRow
	err := s.db.GetContext(ctx, &row, query, stateID, refreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPopConditionFailed
	}
	if err != nil {
		return nil, backendError("pop state", err)
	}
	return row.toState(), nil
}

func (s *PostgresStorage) DeleteExpired(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()`, s.table)
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, backendError("delete expired states", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendError("delete expired states", err)
	}
	return int(n), nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
