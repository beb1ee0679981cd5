package risk

import (
	"errors"
	"fmt"
)

// Veto codes. A veto is an expected terminal outcome, not a fault.
const (
	KillSwitchHalted       = "kill_switch_halted"
	OracleDispute          = "oracle_dispute"
	OracleAmbiguous        = "oracle_ambiguous"
	OracleExposureLimit    = "oracle_exposure_limit"
	DuplicateExecution     = "duplicate_execution"
	PositionSizeExceeded   = "position_size_exceeded"
	EventCapExceeded       = "event_cap_exceeded"
	MaxConcurrentPositions = "max_concurrent_positions"
	DailyLossLimit         = "daily_loss_limit"
	InsufficientDepth      = "insufficient_depth"
	SpreadTooWide          = "spread_too_wide"
	FeeRateTooHigh         = "fee_rate_too_high"
	InsufficientBankroll   = "insufficient_bankroll"
	NoPosition             = "no_position"
	StateCorruption        = "state_corruption"
)

// ErrStateCorruption marks a broken accounting invariant. Callers must halt.
var ErrStateCorruption = errors.New("risk state corruption")

type Veto struct {
	Code   string
	Detail string
}

func (v *Veto) Error() string {
	if v.Detail == "" {
		return v.Code
	}
	return v.Code + ": " + v.Detail
}

func veto(code, format string, args ...any) *Veto {
	return &Veto{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Verdict is the outcome of running candidates through a check. Gate names
// the check that vetoed.
type Verdict struct {
	Allowed bool
	Gate    string
	Veto    *Veto
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(gate string, v *Veto) Verdict {
	return Verdict{Gate: gate, Veto: v}
}

// Reason is the veto code, or "" when allowed.
func (v Verdict) Reason() string {
	if v.Veto == nil {
		return ""
	}
	return v.Veto.Code
}
