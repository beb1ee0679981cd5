package strategy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCriterion   = errors.New("empty resolution criterion")
	ErrNoThreshold      = errors.New("criterion has a comparator but no parseable threshold")
	ErrOutcomeConflict  = errors.New("signal value and resolved outcome disagree")
	ErrNoImpliedOutcome = errors.New("signal does not resolve the criterion")
)

// "CPI above 3.0%", "BTC over $50,000", "unemployment falls below 4.5%".
var (
	thresholdRe  = regexp.MustCompile(`(?i)\b(above|below|over|under|exceeds?)\s+\$?([\d,]+(?:\.\d+)?)\s*%?`)
	comparatorRe = regexp.MustCompile(`(?i)\b(above|below|over|under|exceeds?)\b`)
)

type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// Criterion is a parsed resolution rule. A criterion without a numeric
// threshold is boolean and resolves directly from the signal's outcome.
type Criterion struct {
	Text      string
	Numeric   bool
	Direction Direction
	Threshold decimal.Decimal
}

func ParseCriterion(text string) (Criterion, error) {
	c := Criterion{Text: strings.TrimSpace(text)}
	if c.Text == "" {
		return c, ErrEmptyCriterion
	}

	m := thresholdRe.FindStringSubmatch(c.Text)
	if m == nil {
		if comparatorRe.MatchString(c.Text) {
			return c, ErrNoThreshold
		}
		return c, nil
	}

	th, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return c, fmt.Errorf("%w: %q", ErrNoThreshold, m[2])
	}
	c.Numeric = true
	c.Threshold = th
	switch strings.ToLower(m[1]) {
	case "below", "under":
		c.Direction = Below
	default:
		c.Direction = Above
	}
	return c, nil
}

// Implied derives the outcome a signal implies for this criterion. Strict
// comparison: a value equal to the threshold resolves NO.
func (c Criterion) Implied(sig market.Signal) (market.Outcome, error) {
	if !c.Numeric || sig.Value == nil {
		if sig.Outcome.Resolved() {
			return sig.Outcome, nil
		}
		return market.OutcomeUnknown, ErrNoImpliedOutcome
	}

	v := *sig.Value
	hit := v.GreaterThan(c.Threshold)
	if c.Direction == Below {
		hit = v.LessThan(c.Threshold)
	}
	implied := market.OutcomeNo
	if hit {
		implied = market.OutcomeYes
	}

	if sig.Outcome.Resolved() && sig.Outcome != implied {
		return market.OutcomeUnknown, ErrOutcomeConflict
	}
	return implied, nil
}

func (c Criterion) String() string {
	if !c.Numeric {
		return "boolean"
	}
	return string(c.Direction) + " " + c.Threshold.String()
}
