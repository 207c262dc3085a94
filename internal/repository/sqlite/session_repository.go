package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"epichat-be/pkg/store"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_states (
	session_id      TEXT PRIMARY KEY,
	version         INTEGER NOT NULL DEFAULT 0,
	payload         BLOB,
	turn            INTEGER NOT NULL DEFAULT 0,
	lock_token      TEXT,
	lock_expires_at INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_states_updated_at ON session_states(updated_at);
`

// SessionRepository is the file-backed session backend. Every worker opening the same
// database file shares the cells; SQLite's write lock makes each statement atomic.
type SessionRepository struct {
	db       *sql.DB
	lockTTL  time.Duration
	pollWait time.Duration
}

var _ store.Backend = (*SessionRepository)(nil)

func NewSessionRepository(db *sql.DB, lockTTL time.Duration) *SessionRepository {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &SessionRepository{
		db:       db,
		lockTTL:  lockTTL,
		pollWait: 25 * time.Millisecond,
	}
}

// Migrate creates the session_states table
func (r *SessionRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *SessionRepository) Name() string { return "sqlite" }

func (r *SessionRepository) Close() error { return r.db.Close() }

func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*store.State, error) {
	var (
		version int64
		payload []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, payload FROM session_states WHERE session_id = ?`, sessionID,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewState(sessionID, time.Now().UTC()), nil
	}
	if err != nil {
		return nil, store.Unavailable("sqlite load", err)
	}
	if version == 0 || len(payload) == 0 {
		return store.NewState(sessionID, time.Now().UTC()), nil
	}

	state, err := store.Decode(sessionID, payload)
	if err != nil {
		return nil, err
	}
	state.Version = version
	return state, nil
}

func (r *SessionRepository) Save(ctx context.Context, state *store.State) error {
	if err := r.ensureRow(ctx, state.SessionID); err != nil {
		return err
	}

	next := state.Clone()
	next.Version = state.Version + 1
	next.UpdatedAt = time.Now().UTC()
	payload, err := store.Encode(next)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE session_states SET payload = ?, version = ?, updated_at = ?
		 WHERE session_id = ? AND version = ?`,
		payload, next.Version, next.UpdatedAt.UnixMilli(), state.SessionID, state.Version,
	)
	if err != nil {
		return store.Unavailable("sqlite save", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Unavailable("sqlite save", err)
	}
	if n == 0 {
		return store.ErrVersionConflict
	}

	state.Version = next.Version
	state.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_states WHERE session_id = ?`, sessionID); err != nil {
		return store.Unavailable("sqlite delete", err)
	}
	return nil
}

func (r *SessionRepository) Sweep(ctx context.Context, idleSince time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM session_states
		 WHERE updated_at < ? AND (lock_token IS NULL OR lock_expires_at < ?)`,
		idleSince.UnixMilli(), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, store.Unavailable("sqlite sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Unavailable("sqlite sweep", err)
	}
	return int(n), nil
}

func (r *SessionRepository) NextTurn(ctx context.Context, sessionID string) (int64, error) {
	if err := r.ensureRow(ctx, sessionID); err != nil {
		return 0, err
	}
	var turn int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE session_states SET turn = turn + 1 WHERE session_id = ? RETURNING turn`, sessionID,
	).Scan(&turn)
	if err != nil {
		return 0, store.Unavailable("sqlite turn", err)
	}
	return turn, nil
}

func (r *SessionRepository) LatestTurn(ctx context.Context, sessionID string) (int64, error) {
	var turn int64
	err := r.db.QueryRowContext(ctx, `SELECT turn FROM session_states WHERE session_id = ?`, sessionID).Scan(&turn)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Unavailable("sqlite turn", err)
	}
	return turn, nil
}

func (r *SessionRepository) Acquire(ctx context.Context, sessionID string) (store.Lease, error) {
	if err := r.ensureRow(ctx, sessionID); err != nil {
		return nil, err
	}
	token := uuid.NewString()

	ticker := time.NewTicker(r.pollWait)
	defer ticker.Stop()
	for {
		now := time.Now().UTC()
		res, err := r.db.ExecContext(ctx,
			`UPDATE session_states SET lock_token = ?, lock_expires_at = ?
			 WHERE session_id = ? AND (lock_token IS NULL OR lock_expires_at < ?)`,
			token, now.Add(r.lockTTL).UnixMilli(), sessionID, now.UnixMilli(),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil, store.ErrLockTimeout
			}
			return nil, store.Unavailable("sqlite lock", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return &rowLease{db: r.db, sessionID: sessionID, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, store.ErrLockTimeout
		case <-ticker.C:
		}
	}
}

func (r *SessionRepository) ensureRow(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().UnixMilli()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_states (session_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now, now,
	)
	if err != nil {
		return store.Unavailable("sqlite ensure row", err)
	}
	return nil
}

type rowLease struct {
	db        *sql.DB
	sessionID string
	token     string
}

func (l *rowLease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE session_states SET lock_token = NULL, lock_expires_at = NULL
		 WHERE session_id = ? AND lock_token = ?`,
		l.sessionID, l.token,
	)
	return err
}
