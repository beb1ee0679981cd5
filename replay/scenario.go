package replay

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/risk"
	"gopkg.in/yaml.v3"
)

// Event kinds a scenario may script.
const (
	KindSignal       = "signal"
	KindBooks        = "books"
	KindSnapshot     = "snapshot"
	KindDispute      = "dispute"
	KindSettle       = "settle"
	KindHalt         = "halt"
	KindReset        = "reset"
	KindConnectivity = "connectivity"
	KindDisconnect   = "disconnect"
	KindReconnect    = "reconnect"
)

// Scenario is a scripted session: the opportunities tracked at Start and
// a timeline of events at offsets from it.
type Scenario struct {
	Name          string                     `yaml:"name"`
	Start         time.Time                  `yaml:"start"`
	Opportunities []market.MarketOpportunity `yaml:"opportunities"`
	Events        []Event                    `yaml:"events"`
}

// Event is one step of the timeline. Exactly one payload matches Kind.
type Event struct {
	At     time.Duration `yaml:"at"`
	Kind   string        `yaml:"kind"`
	Detail string        `yaml:"detail,omitempty"`

	Signal   *market.Signal             `yaml:"signal,omitempty"`
	Books    *BookUpdate                `yaml:"books,omitempty"`
	Snapshot []market.MarketOpportunity `yaml:"snapshot,omitempty"`
	Dispute  *risk.DisputeNotice        `yaml:"dispute,omitempty"`
	Settle   *risk.SettlementNotice     `yaml:"settle,omitempty"`
}

// BookUpdate replaces the ladders of one tracked market.
type BookUpdate struct {
	MarketID string           `yaml:"market_id"`
	Yes      market.OrderBook `yaml:"yes"`
	No       market.OrderBook `yaml:"no"`
}

// LoadScenario reads a YAML scenario. Unknown keys are rejected.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks every event carries the payload its kind needs.
func (sc Scenario) Validate() error {
	if sc.Start.IsZero() {
		return fmt.Errorf("scenario %q: start is required", sc.Name)
	}
	for i, ev := range sc.Events {
		if ev.At < 0 {
			return fmt.Errorf("event %d: negative offset %s", i, ev.At)
		}
		var ok bool
		switch strings.ToLower(ev.Kind) {
		case KindSignal:
			ok = ev.Signal != nil
		case KindBooks:
			ok = ev.Books != nil && ev.Books.MarketID != ""
		case KindSnapshot:
			ok = len(ev.Snapshot) > 0
		case KindDispute:
			ok = ev.Dispute != nil && ev.Dispute.MarketID != ""
		case KindSettle:
			ok = ev.Settle != nil && ev.Settle.Winner.Resolved()
		case KindHalt, KindReset, KindConnectivity, KindDisconnect, KindReconnect:
			ok = true
		default:
			return fmt.Errorf("event %d: unknown kind %q", i, ev.Kind)
		}
		if !ok {
			return fmt.Errorf("event %d: %s payload missing", i, ev.Kind)
		}
	}
	return nil
}

// timeline returns the events in time order; ties keep file order.
func (sc Scenario) timeline() []Event {
	out := append([]Event(nil), sc.Events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}
