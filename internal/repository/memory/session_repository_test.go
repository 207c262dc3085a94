package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"epichat-be/pkg/store"
	"epichat-be/pkg/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		r := NewSessionRepository(time.Hour)
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}

func TestLeaseTableOnlyHoldsActiveSessions(t *testing.T) {
	r := NewSessionRepository(time.Hour)
	defer r.Close()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		lease, err := r.Acquire(ctx, fmt.Sprintf("s-%d", i))
		require.NoError(t, err)
		require.NoError(t, lease.Release(ctx))
	}
	assert.Empty(t, r.locks)

	held, err := r.Acquire(ctx, "busy")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(waitCtx, "busy")
	assert.ErrorIs(t, err, store.ErrLockTimeout)
	assert.Len(t, r.locks, 1)

	require.NoError(t, held.Release(ctx))
	require.NoError(t, held.Release(ctx))
	assert.Empty(t, r.locks)
}
