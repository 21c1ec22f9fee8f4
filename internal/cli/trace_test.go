package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aplbridge/internal/journal"
	"github.com/roach88/aplbridge/internal/session"
)

// createTestJournal writes two sessions: s1 renders "home" and receives a
// measure reply, s2 renders "next".
func createTestJournal(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bridge.db")
	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	s1 := j.Recorder("session-one")
	s1.Record(session.DirectionOut, "home", []byte(`{"type":"renderingOptions","seqno":1,"payload":{"legacyKaraoke":false}}`))
	s1.Record(session.DirectionOut, "home", []byte(`{"type":"measure","seqno":2,"payload":{"text":"hi"}}`))
	s1.Record(session.DirectionIn, "home", []byte(`{"type":"measure","seqno":2,"payload":{"width":10,"height":4}}`))
	s1.Record(session.DirectionOut, "home", []byte(`{"type":"hierarchy","seqno":3,"payload":{"hierarchy":{"id":"f"}}}`))

	s2 := j.Recorder("session-two")
	s2.Record(session.DirectionOut, "next", []byte(`{"type":"hierarchy","seqno":1,"payload":{}}`))

	entries, err := j.Entries(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	return dbPath
}

func runTraceCmd(t *testing.T, format string, verbose bool, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format, Verbose: verbose})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := runTraceCmd(t, "text", false, "--token", "home")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceNonExistentDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	_, err := runTraceCmd(t, "text", false, "--db", missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open journal")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, missing)
}

func TestTraceNonExistentDatabaseJSON(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	buf, err := runTraceCmd(t, "json", false, "--db", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeJournal, resp.Error.Code)
}

func TestTraceListsSessions(t *testing.T) {
	dbPath := createTestJournal(t)

	buf, err := runTraceCmd(t, "text", false, "--db", dbPath)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "=== Sessions ===")
	assert.Contains(t, output, "session-one  4 envelopes (1 in, 3 out), 1 documents")
	assert.Contains(t, output, "session-two  1 envelopes (0 in, 1 out), 1 documents")
}

func TestTraceListsSessionsJSON(t *testing.T) {
	dbPath := createTestJournal(t)

	buf, err := runTraceCmd(t, "json", false, "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Sessions []journal.SessionSummary `json:"sessions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Sessions, 2)
	assert.Equal(t, "session-one", resp.Data.Sessions[0].Session)
	assert.Equal(t, 4, resp.Data.Sessions[0].Entries)
}

func TestTraceEmptyJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	buf, err := runTraceCmd(t, "text", false, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No sessions recorded")

	buf, err = runTraceCmd(t, "text", false, "--db", dbPath, "--token", "home")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No envelopes found")
}

func TestTraceByToken(t *testing.T) {
	dbPath := createTestJournal(t)

	buf, err := runTraceCmd(t, "text", false, "--db", dbPath, "--token", "home")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Trace for document home")
	assert.Contains(t, output, "[1] -> renderingOptions token=home seqno=1")
	assert.Contains(t, output, "[3] <- measure token=home seqno=2")
	assert.Contains(t, output, "Total:     4")
	assert.Contains(t, output, "Incoming:  1")
	assert.NotContains(t, output, "Payload:")
	assert.NotContains(t, output, "next")
}

func TestTraceVerbosePayloads(t *testing.T) {
	dbPath := createTestJournal(t)

	buf, err := runTraceCmd(t, "text", true, "--db", dbPath, "--session", "session-one", "--type", "measure")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Trace for session session-one")
	assert.Contains(t, output, "Payload: {text=hi}")
	assert.Contains(t, output, "Payload: {height=4, width=10}")
	assert.NotContains(t, output, "hierarchy")
}

func TestTraceByTokenJSON(t *testing.T) {
	dbPath := createTestJournal(t)

	buf, err := runTraceCmd(t, "json", false, "--db", dbPath, "--session", "session-one", "--token", "home", "--type", "hierarchy")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Entries, 1)
	assert.Equal(t, "hierarchy", resp.Data.Entries[0].Type)
	assert.Equal(t, uint64(3), resp.Data.Entries[0].Seqno)
	assert.JSONEq(t, `{"hierarchy":{"id":"f"}}`, string(resp.Data.Entries[0].Payload))
	assert.Equal(t, TraceStats{Total: 1, Outgoing: 1, Tokens: 1}, resp.Data.Stats)
}

func TestTraceHelpText(t *testing.T) {
	buf, err := runTraceCmd(t, "text", false, "--help")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "--db")
	assert.Contains(t, output, "--session")
	assert.Contains(t, output, "--token")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "0190a3b2...c4d5e6f7", truncateID("0190a3b2-1111-2222-3333-4444c4d5e6f7"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "{a=1, b=[x, null]}", formatValue(map[string]any{"b": []any{"x", nil}, "a": 1}))
	assert.Equal(t, "{}", formatArgs(nil))
	assert.Equal(t, "not json", formatPayload([]byte("not json")))
}
