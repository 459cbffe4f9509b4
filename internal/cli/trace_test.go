package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/harness"
	"github.com/roach88/cartsync/internal/store"
)

// recordSessions runs harness scenarios with a journal and returns the
// database path. Each scenario becomes a session named after it.
func recordSessions(t *testing.T, names ...string) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	for _, name := range names {
		s, err := harness.LoadScenario(filepath.Join(harnessScenarios, name+".yaml"))
		require.NoError(t, err)
		j, err := st.Journal(ctx, name)
		require.NoError(t, err)
		result, err := harness.Run(ctx, s, harness.WithJournal(j))
		require.NoError(t, err)
		require.True(t, result.Pass, result.Errors)
	}
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, "text", "--session", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceDatabaseNotFound(t *testing.T) {
	_, err := executeTrace(t, "text", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestTraceListsSessions(t *testing.T) {
	db := recordSessions(t, "reorder_late_first", "lost_request")

	out, err := executeTrace(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions (2):")
	assert.Contains(t, out, "  lost_request\n  reorder_late_first\n")
}

func TestTraceUnknownSession(t *testing.T) {
	db := recordSessions(t, "lost_request")

	_, err := executeTrace(t, "text", "--db", db, "--session", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "session not found: nope")
}

func TestTraceText(t *testing.T) {
	db := recordSessions(t, "reorder_late_first")

	out, err := executeTrace(t, "text", "--db", db, "--session", "reorder_late_first")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: reorder_late_first")
	assert.Contains(t, out, "#1 submit  u2 seq=1 LinesUpdate")
	assert.Contains(t, out, "#2 submit  u3 seq=2 LinesUpdate")
	assert.Contains(t, out, "#3 resolve u3 succeeded [A=3] qty=3")
	assert.Contains(t, out, "#4 resolve u2 succeeded (stale) [A=3] qty=3")
	assert.Contains(t, out, "Stats: 2 submissions, 1 succeeded, 1 stale, 0 failed, 0 unresolved")
	assert.Contains(t, out, "✓ Session complete")
}

func TestTraceJSON(t *testing.T) {
	db := recordSessions(t, "failure_isolation")

	out, err := executeTrace(t, "json", "--db", db, "--session", "failure_isolation")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "failure_isolation", resp.Data.Session)
	require.Len(t, resp.Data.Timeline, 4)

	rejected := resp.Data.Timeline[2]
	assert.Equal(t, "resolution", rejected.Type)
	assert.Equal(t, "x1", rejected.ID)
	assert.Equal(t, "failed", rejected.Status)
	require.Len(t, rejected.Errors, 1)
	assert.Contains(t, rejected.Errors[0], "lines.0.id")

	confirmed := resp.Data.Timeline[3]
	assert.Equal(t, "a1", confirmed.ID)
	assert.Equal(t, []string{"A=1", "B=1"}, confirmed.Lines)
	assert.Equal(t, 2, confirmed.Quantity)
	assert.NotEmpty(t, confirmed.SnapshotHash)

	assert.Equal(t, TraceStats{Submissions: 2, Succeeded: 1, Failed: 1, IsComplete: true}, resp.Data.Stats)
}
