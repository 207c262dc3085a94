package implementation

import (
	"context"
	"errors"
	"time"

	"epichat-be/internal/model"
	"epichat-be/pkg/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStateRepositoryImpl is the postgres session backend. Save is a conditional
// UPDATE on the version column; leases live in the same row.
type SessionStateRepositoryImpl struct {
	db       *gorm.DB
	lockTTL  time.Duration
	pollWait time.Duration
}

var _ store.Backend = (*SessionStateRepositoryImpl)(nil)

func NewSessionStateRepository(db *gorm.DB, lockTTL time.Duration) *SessionStateRepositoryImpl {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &SessionStateRepositoryImpl{
		db:       db,
		lockTTL:  lockTTL,
		pollWait: 50 * time.Millisecond,
	}
}

// Migrate creates or updates the session_states table
func (r *SessionStateRepositoryImpl) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&model.SessionState{})
}

func (r *SessionStateRepositoryImpl) Name() string { return "postgres" }

func (r *SessionStateRepositoryImpl) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *SessionStateRepositoryImpl) Load(ctx context.Context, sessionID string) (*store.State, error) {
	var m model.SessionState
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.NewState(sessionID, time.Now().UTC()), nil
	}
	if err != nil {
		return nil, store.Unavailable("postgres load", err)
	}
	if m.Version == 0 || len(m.Payload) == 0 {
		return store.NewState(sessionID, time.Now().UTC()), nil
	}

	state, err := store.Decode(sessionID, m.Payload)
	if err != nil {
		return nil, err
	}
	state.Version = m.Version
	return state, nil
}

func (r *SessionStateRepositoryImpl) Save(ctx context.Context, state *store.State) error {
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

	res := r.db.WithContext(ctx).
		Model(&model.SessionState{}).
		Where("session_id = ? AND version = ?", state.SessionID, state.Version).
		Updates(map[string]interface{}{
			"payload":    datatypes.JSON(payload),
			"version":    next.Version,
			"updated_at": next.UpdatedAt,
		})
	if res.Error != nil {
		return store.Unavailable("postgres save", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrVersionConflict
	}

	state.Version = next.Version
	state.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *SessionStateRepositoryImpl) Delete(ctx context.Context, sessionID string) error {
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.SessionState{}).Error; err != nil {
		return store.Unavailable("postgres delete", err)
	}
	return nil
}

func (r *SessionStateRepositoryImpl) Sweep(ctx context.Context, idleSince time.Time) (int, error) {
	// A session with a live lease has a turn in flight, however old its last save is
	res := r.db.WithContext(ctx).
		Where("updated_at < ? AND (lock_token IS NULL OR lock_expires_at < ?)", idleSince, time.Now().UTC()).
		Delete(&model.SessionState{})
	if res.Error != nil {
		return 0, store.Unavailable("postgres sweep", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *SessionStateRepositoryImpl) NextTurn(ctx context.Context, sessionID string) (int64, error) {
	if err := r.ensureRow(ctx, sessionID); err != nil {
		return 0, err
	}

	var m model.SessionState
	res := r.db.WithContext(ctx).
		Model(&m).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "turn"}}}).
		Where("session_id = ?", sessionID).
		Update("turn", gorm.Expr("turn + 1"))
	if res.Error != nil {
		return 0, store.Unavailable("postgres turn", res.Error)
	}
	return m.Turn, nil
}

func (r *SessionStateRepositoryImpl) LatestTurn(ctx context.Context, sessionID string) (int64, error) {
	var m model.SessionState
	err := r.db.WithContext(ctx).Select("turn").Where("session_id = ?", sessionID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Unavailable("postgres turn", err)
	}
	return m.Turn, nil
}

func (r *SessionStateRepositoryImpl) Acquire(ctx context.Context, sessionID string) (store.Lease, error) {
	if err := r.ensureRow(ctx, sessionID); err != nil {
		return nil, err
	}
	token := uuid.NewString()

	ticker := time.NewTicker(r.pollWait)
	defer ticker.Stop()
	for {
		now := time.Now().UTC()
		expires := now.Add(r.lockTTL)
		res := r.db.WithContext(ctx).
			Model(&model.SessionState{}).
			Where("session_id = ? AND (lock_token IS NULL OR lock_expires_at < ?)", sessionID, now).
			Updates(map[string]interface{}{
				"lock_token":      token,
				"lock_expires_at": expires,
			})
		if res.Error != nil {
			if ctx.Err() != nil {
				return nil, store.ErrLockTimeout
			}
			return nil, store.Unavailable("postgres lock", res.Error)
		}
		if res.RowsAffected == 1 {
			return &rowLease{db: r.db, sessionID: sessionID, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, store.ErrLockTimeout
		case <-ticker.C:
		}
	}
}

func (r *SessionStateRepositoryImpl) ensureRow(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.SessionState{SessionId: sessionID, CreatedAt: now, UpdatedAt: now}).Error
	if err != nil {
		return store.Unavailable("postgres ensure row", err)
	}
	return nil
}

type rowLease struct {
	db        *gorm.DB
	sessionID string
	token     string
}

func (l *rowLease) Release(ctx context.Context) error {
	return l.db.WithContext(ctx).
		Model(&model.SessionState{}).
		Where("session_id = ? AND lock_token = ?", l.sessionID, l.token).
		Updates(map[string]interface{}{
			"lock_token":      nil,
			"lock_expires_at": nil,
		}).Error
}
