package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogsFiltersAndPaginates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewIsolatedLogger(path)

	l.Info("ENGINE", "turn committed", map[string]interface{}{"session_id": "a"})
	l.Warn("INTENT", "classification failure", map[string]interface{}{"session_id": "b"})
	l.Info("ENGINE", "turn committed", map[string]interface{}{"session_id": "b"})
	require.NoError(t, l.Sync())

	all, err := l.GetLogs(LogFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Details["session_id"], "newest first")

	warn, err := l.GetLogs(LogFilter{Level: "WARN"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, warn, 1)
	assert.Equal(t, "INTENT", warn[0].Module)

	forB, err := l.GetLogs(LogFilter{Module: "ENGINE", SessionID: "b"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, forB, 1)

	page, err := l.GetLogs(LogFilter{}, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Details["session_id"])

	byID, err := l.GetLogById(page[0].Id)
	require.NoError(t, err)
	assert.Equal(t, page[0].Message, byID.Message)
}

func TestObservedLogger(t *testing.T) {
	l, logs := NewObservedLogger()
	l.Warn("INTENT", "ClassificationFailure", nil)

	entries := logs.FilterMessage("ClassificationFailure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "INTENT", entries[0].ContextMap()["module"])
}
