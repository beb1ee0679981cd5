package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchLogSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "dispatched.jsonl")

	first := NewLedger(ledgerParams(), newClock())
	n, err := first.OpenDispatchLog(path)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = first.Commit(buy(opp("m1", "e1"), "100"))
	require.NoError(t, err)
	require.NoError(t, first.CloseDispatchLog())

	second := NewLedger(ledgerParams(), newClock())
	n, err = second.OpenDispatchLog(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.CloseDispatchLog() })
	assert.Equal(t, 1, n)
	assert.True(t, second.Dispatched("m1:YES:BUY"))

	_, err = second.Commit(buy(opp("m1", "e1"), "100"))
	requireVeto(t, err, DuplicateExecution)
	assert.True(t, second.Bankroll().CommittedTotal().IsZero())

	_, err = second.Commit(buy(opp("m2", "e1"), "100"))
	require.NoError(t, err)

	entries, torn, err := readDispatchLog(path)
	require.NoError(t, err)
	assert.False(t, torn)
	require.Len(t, entries, 2)
	assert.Equal(t, "m2:YES:BUY", entries[1].Key)
}

func TestDispatchLogTornTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dispatched.jsonl")
	body := `{"key":"m1:YES:BUY","at":"2025-03-12T12:30:00Z"}` + "\n" + `{"key":"m2:YE`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	entries, torn, err := readDispatchLog(path)
	require.NoError(t, err)
	assert.True(t, torn)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1:YES:BUY", entries[0].Key)

	// Reopening drops the torn line; later appends stay parseable.
	l := NewLedger(ledgerParams(), newClock())
	n, err := l.OpenDispatchLog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = l.Commit(buy(opp("m3", "e1"), "100"))
	require.NoError(t, err)
	require.NoError(t, l.CloseDispatchLog())
	entries, torn, err = readDispatchLog(path)
	require.NoError(t, err)
	assert.False(t, torn)
	require.Len(t, entries, 2)

	bad := `{"key":"m1:YES:BUY"` + "\n" + `{"key":"m2:YES:BUY","at":"2025-03-12T12:30:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
	_, _, err = readDispatchLog(path)
	assert.Error(t, err)
}

func TestDispatchLogDisabled(t *testing.T) {
	t.Parallel()

	l := NewLedger(ledgerParams(), newClock())
	n, err := l.OpenDispatchLog("")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = l.Commit(buy(opp("m1", "e1"), "100"))
	require.NoError(t, err)
	assert.NoError(t, l.CloseDispatchLog())
}
