package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorageUnavailable marks a backend failure. It is distinct from a missing record,
	// which Load answers with a default State.
	ErrStorageUnavailable = errors.New("session storage unavailable")

	// ErrVersionConflict is returned by Save when another writer committed first
	ErrVersionConflict = errors.New("session state version conflict")

	// ErrLockTimeout is returned when a session lease could not be acquired in time
	ErrLockTimeout = errors.New("session lock wait timed out")
)

// Store maps a session id to its State. Implementations must be safe to use from any
// worker process: nothing cached in-process is authoritative.
type Store interface {
	// Load returns the stored state or a fresh default record when none exists
	Load(ctx context.Context, sessionID string) (*State, error)

	// Save commits state if the stored version still equals state.Version, then bumps it
	Save(ctx context.Context, state *State) error

	// Delete removes a session record
	Delete(ctx context.Context, sessionID string) error

	// Sweep destroys records idle since before the cutoff and reports how many
	Sweep(ctx context.Context, idleSince time.Time) (int, error)
}

// Lease is a held per-session lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker serializes turns for one session across processes
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (Lease, error)
}

// TurnCounter hands out monotonic per-session request tickets
type TurnCounter interface {
	NextTurn(ctx context.Context, sessionID string) (int64, error)
	LatestTurn(ctx context.Context, sessionID string) (int64, error)
}

// Backend is what the engine needs from a persistence collaborator
type Backend interface {
	Store
	Locker
	TurnCounter
	Name() string
	Close() error
}

// Unavailable wraps a backend error as ErrStorageUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// Encode serializes a state for a backend cell
func Encode(state *State) ([]byte, error) {
	return json.Marshal(state)
}

// Decode restores a state from a backend cell. The stored session id must match the key
// it was read under, anything else is treated as corruption.
func Decode(sessionID string, raw []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if state.SessionID != sessionID {
		return nil, fmt.Errorf("decode session %s: cell holds session %q", sessionID, state.SessionID)
	}
	return &state, nil
}

// Key is the storage key of a session cell
func Key(sessionID string) string {
	return "session:" + sessionID + ":state"
}
