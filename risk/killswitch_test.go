package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSwitch(t *testing.T) *KillSwitch {
	return NewKillSwitch(managerParams(t).KillSwitch, newClock(), zerolog.Nop())
}

func TestKillSwitchErrorRateScenarioC(t *testing.T) {
	t.Parallel()

	k := newSwitch(t)
	for i := 1; i <= 4; i++ {
		k.RecordExecution(true)
		halted, _ := k.Halted()
		require.False(t, halted, "failure %d of a ten-trade window is below 50%%", i)
	}
	k.RecordExecution(true)
	halted, cause := k.Halted()
	assert.True(t, halted)
	assert.Equal(t, CauseErrorRate, cause)
	assert.True(t, k.ErrorRate().Equal(d("50")))
}

func TestKillSwitchWindowRolls(t *testing.T) {
	t.Parallel()

	p := managerParams(t).KillSwitch
	p.ErrorWindow = 4
	k := NewKillSwitch(p, newClock(), zerolog.Nop())

	k.RecordExecution(true)
	for i := 0; i < 4; i++ {
		k.RecordExecution(false)
	}
	assert.True(t, k.ErrorRate().IsZero(), "old failure rolled out")
	k.RecordExecution(true)
	halted, _ := k.Halted()
	assert.False(t, halted)
	k.RecordExecution(true)
	halted, _ = k.Halted()
	assert.True(t, halted)
}

func TestKillSwitchConsecutiveLosses(t *testing.T) {
	t.Parallel()

	k := newSwitch(t)
	k.RecordRealized(d("-1"), d("-1"))
	k.RecordRealized(d("-1"), d("-2"))
	k.RecordRealized(d("5"), d("3"))
	k.RecordRealized(d("-1"), d("2"))
	k.RecordRealized(d("-1"), d("1"))
	halted, _ := k.Halted()
	require.False(t, halted)

	k.RecordRealized(d("-1"), d("0"))
	halted, cause := k.Halted()
	assert.True(t, halted)
	assert.Equal(t, CauseConsecutiveLosses, cause)
}

func TestKillSwitchDailyLoss(t *testing.T) {
	t.Parallel()

	k := newSwitch(t)
	k.RecordRealized(d("-150"), d("-150"))
	halted, _ := k.Halted()
	require.False(t, halted)
	k.RecordRealized(d("50"), d("-100"))
	k.RecordRealized(d("-100"), d("-200"))
	halted, cause := k.Halted()
	assert.True(t, halted)
	assert.Equal(t, CauseDailyLoss, cause)
}

func TestKillSwitchConnectivity(t *testing.T) {
	t.Parallel()

	k := newSwitch(t)
	k.RecordTransport(false)
	k.RecordTransport(false)
	k.RecordTransport(true)
	k.RecordTransport(false)
	k.RecordTransport(false)
	halted, _ := k.Halted()
	require.False(t, halted)
	k.RecordTransport(false)
	halted, cause := k.Halted()
	assert.True(t, halted)
	assert.Equal(t, CauseConnectivity, cause)
}

func TestKillSwitchMonotonicUntilReset(t *testing.T) {
	t.Parallel()

	k := newSwitch(t)
	var seen []Transition
	k.OnTransition(func(tr Transition) { seen = append(seen, tr) })

	k.Trip(CauseConnectivity, "executor breach")
	k.Trip(CauseManual, "second trip is ignored")
	for i := 0; i < 20; i++ {
		k.RecordExecution(false)
		k.RecordRealized(d("10"), d("10"))
		k.RecordTransport(true)
	}
	halted, cause := k.Halted()
	assert.True(t, halted)
	assert.Equal(t, CauseConnectivity, cause, "first cause wins")

	k.Reset("operator")
	halted, _ = k.Halted()
	assert.False(t, halted)

	st := k.Status()
	require.Len(t, st.Transitions, 2)
	assert.Equal(t, Halted, st.Transitions[0].To)
	assert.Equal(t, Running, st.Transitions[1].To)
	assert.Equal(t, "operator", st.Transitions[1].Detail)
	assert.Zero(t, st.WindowFailures)
	assert.Len(t, seen, 2)
}

func TestKillSwitchCheckpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "ks.json")
	p := managerParams(t).KillSwitch
	p.StatePath = path

	k := NewKillSwitch(p, newClock(), zerolog.Nop())
	k.Trip(CauseDailyLoss, "day P&L -250")

	ck, ok, err := LoadCheckpoint(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Halted, ck.State)
	assert.Equal(t, CauseDailyLoss, ck.Cause)

	restarted := NewKillSwitch(p, newClock(), zerolog.Nop())
	halted, err := restarted.Restore()
	require.NoError(t, err)
	assert.True(t, halted)
	st := restarted.Status()
	assert.Equal(t, CauseDailyLoss, st.Cause)
	assert.WithinDuration(t, t0, st.Since, time.Second)

	restarted.Reset("cli")
	ck, _, err = LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, Running, ck.State)
}

func TestKillSwitchCheckpointFollowsRacingTransitions(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	p := managerParams(t).KillSwitch
	p.StatePath = filepath.Join(dir, "ks.json")
	k := NewKillSwitch(p, newClock(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			k.Trip(CauseManual, fmt.Sprintf("halt %d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			k.Reset(fmt.Sprintf("op %d", i))
		}(i)
	}
	wg.Wait()
	k.Trip(CauseManual, "last")

	ck, ok, err := LoadCheckpoint(p.StatePath)
	require.NoError(t, err)
	require.True(t, ok)
	st := k.Status()
	assert.Equal(t, st.State, ck.State)
	assert.Equal(t, st.Cause, ck.Cause)
	assert.Equal(t, st.Detail, ck.Detail)
	assert.Len(t, ck.Transitions, len(st.Transitions))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files left behind")
	assert.Equal(t, "ks.json", entries[0].Name())
}

func TestKillSwitchCheckpointEndsAtLatestState(t *testing.T) {
	t.Parallel()

	p := managerParams(t).KillSwitch
	p.StatePath = filepath.Join(t.TempDir(), "ks.json")
	k := NewKillSwitch(p, newClock(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				k.Trip(CauseConnectivity, "feed down")
			} else {
				k.Reset("cli")
			}
		}(i)
	}
	wg.Wait()

	ck, _, err := LoadCheckpoint(p.StatePath)
	require.NoError(t, err)
	assert.Equal(t, k.Status().State, ck.State)
}

func TestLoadCheckpointMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := LoadCheckpoint(filepath.Join(t.TempDir(), "none.json"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = LoadCheckpoint("")
	assert.NoError(t, err)
	assert.False(t, ok)
}
