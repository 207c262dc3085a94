package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"epichat-be/pkg/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const activityIndexKey = "sessions:activity"

// releaseScript deletes the lease only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// SessionRepository stores session cells in Redis so every worker sees the same state.
// Save is a WATCH/MULTI compare-and-swap on the cell; leases are SET NX PX keys.
type SessionRepository struct {
	rdb      *redis.Client
	ttl      time.Duration
	lockTTL  time.Duration
	pollWait time.Duration
}

var _ store.Backend = (*SessionRepository)(nil)

func NewSessionRepository(rdb *redis.Client, ttl, lockTTL time.Duration) *SessionRepository {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &SessionRepository{
		rdb:      rdb,
		ttl:      ttl,
		lockTTL:  lockTTL,
		pollWait: 25 * time.Millisecond,
	}
}

func (r *SessionRepository) Name() string { return "redis" }

func (r *SessionRepository) Close() error { return r.rdb.Close() }

func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*store.State, error) {
	raw, err := r.rdb.Get(ctx, store.Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.NewState(sessionID, time.Now().UTC()), nil
	}
	if err != nil {
		return nil, store.Unavailable("redis load", err)
	}
	return store.Decode(sessionID, raw)
}

func (r *SessionRepository) Save(ctx context.Context, state *store.State) error {
	key := store.Key(state.SessionID)
	next := state.Clone()
	next.UpdatedAt = time.Now().UTC()

	txf := func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return store.Unavailable("redis save", err)
		default:
			stored, err := store.Decode(state.SessionID, raw)
			if err != nil {
				return err
			}
			current = stored.Version
		}
		if current != state.Version {
			return store.ErrVersionConflict
		}

		next.Version = current + 1
		payload, err := store.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			pipe.ZAdd(ctx, activityIndexKey, redis.Z{
				Score:  float64(next.UpdatedAt.UnixMilli()),
				Member: state.SessionID,
			})
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txf, key)
	switch {
	case err == nil:
		state.Version = next.Version
		state.UpdatedAt = next.UpdatedAt
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, store.ErrVersionConflict):
		return store.ErrVersionConflict
	case errors.Is(err, store.ErrStorageUnavailable):
		return err
	default:
		return store.Unavailable("redis save", err)
	}
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, store.Key(sessionID), turnKey(sessionID))
	pipe.ZRem(ctx, activityIndexKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return store.Unavailable("redis delete", err)
	}
	return nil
}

// Sweep removes sessions whose last commit is older than idleSince. Keys also carry the
// configured TTL, so cells of abandoned sessions expire even if no sweeper runs.
func (r *SessionRepository) Sweep(ctx context.Context, idleSince time.Time) (int, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, activityIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(idleSince.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, store.Unavailable("redis sweep", err)
	}
	removed := 0
	for _, id := range ids {
		// a held lease means a turn is in flight
		held, err := r.rdb.Exists(ctx, lockKey(id)).Result()
		if err != nil {
			return removed, store.Unavailable("redis sweep", err)
		}
		if held > 0 {
			continue
		}
		if err := r.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *SessionRepository) NextTurn(ctx context.Context, sessionID string) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, turnKey(sessionID))
	if r.ttl > 0 {
		pipe.Expire(ctx, turnKey(sessionID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, store.Unavailable("redis turn", err)
	}
	return incr.Val(), nil
}

func (r *SessionRepository) LatestTurn(ctx context.Context, sessionID string) (int64, error) {
	turn, err := r.rdb.Get(ctx, turnKey(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Unavailable("redis turn", err)
	}
	return turn, nil
}

func (r *SessionRepository) Acquire(ctx context.Context, sessionID string) (store.Lease, error) {
	token := uuid.NewString()
	key := lockKey(sessionID)

	ticker := time.NewTicker(r.pollWait)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, store.ErrLockTimeout
			}
			return nil, store.Unavailable("redis lock", err)
		}
		if ok {
			return &lease{rdb: r.rdb, key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, store.ErrLockTimeout
		case <-ticker.C:
		}
	}
}

type lease struct {
	rdb   *redis.Client
	key   string
	token string
}

func (l *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

func turnKey(sessionID string) string {
	return "session:" + sessionID + ":turn"
}

func lockKey(sessionID string) string {
	return "session:" + sessionID + ":lock"
}
