package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/shopspring/decimal"
)

type State string

const (
	Running State = "RUNNING"
	Halted  State = "HALTED"
)

// Halt causes.
const (
	CauseDailyLoss         = "daily_loss_limit"
	CauseConsecutiveLosses = "consecutive_losses"
	CauseErrorRate         = "error_rate"
	CauseConnectivity      = "connectivity"
	CauseStateCorruption   = StateCorruption
	CauseManual            = "manual"
	CauseReset             = "reset"
)

type Transition struct {
	At     time.Time `json:"at"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Cause  string    `json:"cause"`
	Detail string    `json:"detail,omitempty"`
}

type KillSwitchParams struct {
	MaxDailyLoss         decimal.Decimal
	MaxConsecutiveLosses int
	// ErrorWindow is the number of recent executions the error rate is
	// measured over. The rate is failures over the window size, so a
	// half-empty window cannot trip on its first failure.
	ErrorWindow           int
	MaxErrorRatePct       decimal.Decimal
	ConnectivityMaxErrors int
	StatePath             string
}

// KillSwitchStatus is a read-only copy of the switch.
type KillSwitchStatus struct {
	State             State        `json:"state"`
	Cause             string       `json:"cause,omitempty"`
	Detail            string       `json:"detail,omitempty"`
	Since             time.Time    `json:"since"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	WindowFailures    int          `json:"window_failures"`
	WindowSize        int          `json:"window_size"`
	ConnectivityErrs  int          `json:"connectivity_errors"`
	Transitions       []Transition `json:"transitions,omitempty"`
}

func (s KillSwitchStatus) Halted() bool { return s.State == Halted }

// KillSwitch is the process-wide halt controller. Once halted it stays
// halted until Reset is called; nothing inside the engine calls Reset.
type KillSwitch struct {
	saveMu sync.Mutex
	mu     sync.Mutex
	p      KillSwitchParams
	clock  util.Clock
	log    zerolog.Logger

	state       State
	cause       string
	detail      string
	since       time.Time
	consecutive int
	window      []bool // true = failure
	next        int
	filled      int
	connErrs    int
	transitions []Transition

	onTransition func(Transition)
}

func NewKillSwitch(p KillSwitchParams, clock util.Clock, log zerolog.Logger) *KillSwitch {
	if clock == nil {
		clock = util.RealClock{}
	}
	if p.ErrorWindow < 1 {
		p.ErrorWindow = 1
	}
	return &KillSwitch{
		p:      p,
		clock:  clock,
		log:    log.With().Str("component", "killswitch").Logger(),
		state:  Running,
		since:  clock.Now(),
		window: make([]bool, p.ErrorWindow),
	}
}

// OnTransition registers a hook called after every state change, outside
// the switch's lock.
func (k *KillSwitch) OnTransition(fn func(Transition)) {
	k.mu.Lock()
	k.onTransition = fn
	k.mu.Unlock()
}

func (k *KillSwitch) Halted() (bool, string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state == Halted, k.cause
}

func (k *KillSwitch) Status() KillSwitchStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	return KillSwitchStatus{
		State:             k.state,
		Cause:             k.cause,
		Detail:            k.detail,
		Since:             k.since,
		ConsecutiveLosses: k.consecutive,
		WindowFailures:    k.failuresLocked(),
		WindowSize:        len(k.window),
		ConnectivityErrs:  k.connErrs,
		Transitions:       append([]Transition(nil), k.transitions...),
	}
}

func (k *KillSwitch) failuresLocked() int {
	n := 0
	for i := 0; i < k.filled; i++ {
		if k.window[i] {
			n++
		}
	}
	return n
}

// ErrorRate is window failures over window size, in percent.
func (k *KillSwitch) ErrorRate() decimal.Decimal {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.errorRateLocked()
}

func (k *KillSwitch) errorRateLocked() decimal.Decimal {
	return decimal.NewFromInt(int64(k.failuresLocked())).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(len(k.window))), 4)
}

// RecordExecution feeds one executor outcome into the error window.
func (k *KillSwitch) RecordExecution(failed bool) {
	k.mu.Lock()
	k.window[k.next] = failed
	k.next = (k.next + 1) % len(k.window)
	if k.filled < len(k.window) {
		k.filled++
	}
	var t *Transition
	if failed && k.p.MaxErrorRatePct.IsPositive() {
		if rate := k.errorRateLocked(); rate.GreaterThanOrEqual(k.p.MaxErrorRatePct) {
			t = k.haltLocked(CauseErrorRate, fmt.Sprintf("error rate %s%% >= %s%% over %d", rate, k.p.MaxErrorRatePct, len(k.window)))
		}
	}
	k.mu.Unlock()
	k.emit(t)
}

// RecordTransport tracks consecutive transport failures; a success clears
// the streak.
func (k *KillSwitch) RecordTransport(ok bool) {
	k.mu.Lock()
	var t *Transition
	if ok {
		k.connErrs = 0
	} else {
		k.connErrs++
		if k.p.ConnectivityMaxErrors > 0 && k.connErrs >= k.p.ConnectivityMaxErrors {
			t = k.haltLocked(CauseConnectivity, fmt.Sprintf("%d consecutive transport errors", k.connErrs))
		}
	}
	k.mu.Unlock()
	k.emit(t)
}

// RecordRealized feeds a closed position's P&L and the day's running total.
func (k *KillSwitch) RecordRealized(pnl, daily decimal.Decimal) {
	k.mu.Lock()
	var t *Transition
	if pnl.IsNegative() {
		k.consecutive++
	} else if pnl.IsPositive() {
		k.consecutive = 0
	}
	switch {
	case k.p.MaxDailyLoss.IsPositive() && daily.LessThanOrEqual(k.p.MaxDailyLoss.Neg()):
		t = k.haltLocked(CauseDailyLoss, fmt.Sprintf("day P&L %s at or past -%s", daily, k.p.MaxDailyLoss))
	case k.p.MaxConsecutiveLosses > 0 && k.consecutive >= k.p.MaxConsecutiveLosses:
		t = k.haltLocked(CauseConsecutiveLosses, fmt.Sprintf("%d consecutive losses", k.consecutive))
	}
	k.mu.Unlock()
	k.emit(t)
}

// Trip halts with cause. It is how connectivity breaches, state corruption
// and operators stop the engine.
func (k *KillSwitch) Trip(cause, detail string) {
	k.mu.Lock()
	t := k.haltLocked(cause, detail)
	k.mu.Unlock()
	k.emit(t)
}

// Reset clears every counter and returns to RUNNING.
func (k *KillSwitch) Reset(by string) {
	k.mu.Lock()
	var t *Transition
	if k.state == Halted {
		tr := Transition{At: k.clock.Now(), From: Halted, To: Running, Cause: CauseReset, Detail: by}
		k.transitions = append(k.transitions, tr)
		t = &tr
	}
	k.state = Running
	k.cause, k.detail = "", ""
	k.since = k.clock.Now()
	k.consecutive = 0
	k.connErrs = 0
	k.next, k.filled = 0, 0
	for i := range k.window {
		k.window[i] = false
	}
	k.mu.Unlock()
	k.emit(t)
}

// haltLocked is a no-op when already halted: the first cause wins.
func (k *KillSwitch) haltLocked(cause, detail string) *Transition {
	if k.state == Halted {
		return nil
	}
	now := k.clock.Now()
	tr := Transition{At: now, From: Running, To: Halted, Cause: cause, Detail: detail}
	k.state = Halted
	k.cause, k.detail = cause, detail
	k.since = now
	k.transitions = append(k.transitions, tr)
	return &tr
}

func (k *KillSwitch) emit(t *Transition) {
	if t == nil {
		return
	}
	ev := k.log.Warn()
	if t.To == Running {
		ev = k.log.Info()
	}
	ev.Str("from", string(t.From)).Str("to", string(t.To)).Str("cause", t.Cause).Str("detail", t.Detail).Msg("kill switch transition")

	if err := k.Save(); err != nil {
		k.log.Error().Err(err).Str("path", k.p.StatePath).Msg("kill switch checkpoint")
	}

	k.mu.Lock()
	fn := k.onTransition
	k.mu.Unlock()
	if fn != nil {
		fn(*t)
	}
}
