package memory

import (
	"context"
	"sync"
	"time"

	"epichat-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps session cells in process memory. It is only valid for a
// single-process deployment (local runs, tests, chatctl); multi-worker setups must use
// the redis, postgres or sqlite backend.
type SessionRepository struct {
	cache *cache.Cache
	ttl   time.Duration

	// mu guards the read-compare-write sequence of Save and the turn counters
	mu sync.Mutex

	// locks only holds sessions with a lease held or awaited
	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

var _ store.Backend = (*SessionRepository)(nil)

func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	// Purge expired cells every 10 minutes
	c := cache.New(ttl, 10*time.Minute)
	return &SessionRepository{
		cache: c,
		ttl:   ttl,
		locks: make(map[string]*sessionLock),
	}
}

func (r *SessionRepository) Name() string { return "memory" }

func (r *SessionRepository) Close() error {
	r.cache.Flush()
	return nil
}

// Cells hold encoded bytes, never *store.State, so no caller can alias another's state.
func (r *SessionRepository) Load(_ context.Context, sessionID string) (*store.State, error) {
	x, found := r.cache.Get(store.Key(sessionID))
	if !found {
		return store.NewState(sessionID, time.Now().UTC()), nil
	}
	return store.Decode(sessionID, x.([]byte))
}

func (r *SessionRepository) Save(_ context.Context, state *store.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if x, found := r.cache.Get(store.Key(state.SessionID)); found {
		stored, err := store.Decode(state.SessionID, x.([]byte))
		if err != nil {
			return err
		}
		current = stored.Version
	}
	if current != state.Version {
		return store.ErrVersionConflict
	}

	next := state.Clone()
	next.Version = current + 1
	next.UpdatedAt = time.Now().UTC()
	raw, err := store.Encode(next)
	if err != nil {
		return err
	}
	r.cache.Set(store.Key(state.SessionID), raw, cache.DefaultExpiration)

	state.Version = next.Version
	state.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, sessionID string) error {
	r.cache.Delete(store.Key(sessionID))
	r.cache.Delete(turnKey(sessionID))
	return nil
}

func (r *SessionRepository) Sweep(_ context.Context, idleSince time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, item := range r.cache.Items() {
		raw, ok := item.Object.([]byte)
		if !ok {
			continue
		}
		s, err := store.Decode(sessionFromKey(key), raw)
		if err != nil {
			continue
		}
		if s.UpdatedAt.Before(idleSince) && !r.leased(s.SessionID) {
			r.cache.Delete(key)
			r.cache.Delete(turnKey(s.SessionID))
			removed++
		}
	}
	return removed, nil
}

func (r *SessionRepository) NextTurn(_ context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var turn int64
	if x, found := r.cache.Get(turnKey(sessionID)); found {
		turn = x.(int64)
	}
	turn++
	r.cache.Set(turnKey(sessionID), turn, cache.DefaultExpiration)
	return turn, nil
}

func (r *SessionRepository) LatestTurn(_ context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if x, found := r.cache.Get(turnKey(sessionID)); found {
		return x.(int64), nil
	}
	return 0, nil
}

// Acquire blocks until the session's lease is free or ctx ends
func (r *SessionRepository) Acquire(ctx context.Context, sessionID string) (store.Lease, error) {
	r.locksMu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		r.locks[sessionID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return &memoryLease{repo: r, sessionID: sessionID, lock: l}, nil
	case <-ctx.Done():
		r.unref(sessionID, l)
		return nil, store.ErrLockTimeout
	}
}

func (r *SessionRepository) unref(sessionID string, l *sessionLock) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l.refs--
	if l.refs == 0 && r.locks[sessionID] == l {
		delete(r.locks, sessionID)
	}
}

func (r *SessionRepository) leased(sessionID string) bool {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[sessionID]
	return ok && len(l.ch) > 0
}

type memoryLease struct {
	once      sync.Once
	repo      *SessionRepository
	sessionID string
	lock      *sessionLock
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.lock.ch
		l.repo.unref(l.sessionID, l.lock)
	})
	return nil
}

func turnKey(sessionID string) string {
	return "session:" + sessionID + ":turn"
}

func sessionFromKey(key string) string {
	const prefix, suffix = "session:", ":state"
	if len(key) < len(prefix)+len(suffix) || key[:len(prefix)] != prefix || key[len(key)-len(suffix):] != suffix {
		return ""
	}
	return key[len(prefix) : len(key)-len(suffix)]
}
