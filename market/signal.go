package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed signal or opportunity. Inputs that
// fail validation are dropped before they can touch risk state.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Signal is one observation of a real-world fact, produced by a feed.
type Signal struct {
	ID          string           `json:"id,omitempty" yaml:"id,omitempty"`
	Source      string           `json:"source" yaml:"source"`
	IndicatorID string           `json:"indicator" yaml:"indicator"`
	Value       *decimal.Decimal `json:"value,omitempty" yaml:"value,omitempty"`
	Outcome     Outcome          `json:"outcome" yaml:"outcome"`
	Confidence  decimal.Decimal  `json:"confidence" yaml:"confidence"`
	ObservedAt  time.Time        `json:"observed_at" yaml:"observed_at"`
}

func (s Signal) Validate() error {
	if strings.TrimSpace(s.Source) == "" {
		return invalid("source", "required")
	}
	if strings.TrimSpace(s.IndicatorID) == "" {
		return invalid("indicator", "required")
	}
	if !s.Outcome.Valid() {
		return invalid("outcome", "%q is not YES, NO or UNKNOWN", s.Outcome)
	}
	if s.Confidence.LessThan(Zero) || s.Confidence.GreaterThan(One) {
		return invalid("confidence", "%s outside [0,1]", s.Confidence)
	}
	if s.ObservedAt.IsZero() {
		return invalid("observed_at", "required")
	}
	if s.Value == nil && !s.Outcome.Resolved() {
		return invalid("value", "signal carries neither a value nor a resolved outcome")
	}
	return nil
}

// Age is how long ago the signal was observed.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.ObservedAt)
}

// Fact names the real-world fact a signal reports. Independent sources
// reporting the same release produce the same Fact.
func (s Signal) Fact() string {
	v := "-"
	if s.Value != nil {
		v = s.Value.String()
	}
	return strings.ToUpper(s.IndicatorID) + "=" + v + "/" + string(s.Outcome)
}
