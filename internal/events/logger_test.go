package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerReadLastNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l, err := NewLogger(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Log(&Event{SessionID: id, Event: EventStarted}))
	}
	require.NoError(t, l.Close())

	got, err := ReadLast(path, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].SessionID)
	assert.Equal(t, "b", got[1].SessionID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestReadLastSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"event":"started","session_id":"x"}` + "\nnot json\n" + `{"event":"stopped","reason":"silence"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := ReadLast(path, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventStopped, got[0].Event)
	assert.Equal(t, "silence", got[0].Reason)
}

func TestReadLastMissingFile(t *testing.T) {
	got, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	require.NoError(t, l.Log(&Event{Event: EventStarted}))
	require.NoError(t, l.Close())
	assert.Empty(t, l.Path())
}
