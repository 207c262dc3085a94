package engine

import (
	"context"
	"testing"
	"time"

	"epichat-be/internal/repository/memory"
	"epichat-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperExpiresIdleSessions(t *testing.T) {
	repo := memory.NewSessionRepository(time.Hour)
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, store.NewState("stale", time.Now().UTC())))
	time.Sleep(5 * time.Millisecond)
	boundary := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, repo.Save(ctx, store.NewState("fresh", time.Now().UTC())))

	// Saves stamp their own time, so the clock moves instead of the records
	s := NewSweeper(repo, time.Hour, time.Minute, nil)
	s.now = func() time.Time { return boundary.Add(time.Hour) }
	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Load(ctx, "stale")
	require.NoError(t, err)
	assert.Zero(t, got.Version)

	got, err = repo.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	repo := memory.NewSessionRepository(time.Hour)
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(repo, time.Hour, 5*time.Millisecond, nil).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
