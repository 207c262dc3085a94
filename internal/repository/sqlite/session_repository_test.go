package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"epichat-be/pkg/database"
	"epichat-be/pkg/store"
	"epichat-be/pkg/store/storetest"

	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "sessions.db"))
		require.NoError(t, err)

		repo := NewSessionRepository(db, 0)
		require.NoError(t, repo.Migrate(context.Background()))
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}
