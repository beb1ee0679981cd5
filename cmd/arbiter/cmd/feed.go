package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/engine"
	"github.com/rustyeddy/arbiter/market"
	"github.com/rustyeddy/arbiter/risk"
	"gopkg.in/yaml.v3"
)

// feedLine is one line of the JSONL input feed. Exactly one field is set.
type feedLine struct {
	Signal   *market.Signal             `json:"signal,omitempty"`
	Dispute  *risk.DisputeNotice        `json:"dispute,omitempty"`
	Settle   *risk.SettlementNotice     `json:"settle,omitempty"`
	Snapshot []market.MarketOpportunity `json:"snapshot,omitempty"`
}

// feed fans a single JSONL stream out onto the engine's input channels.
type feed struct {
	signals     chan market.Signal
	disputes    chan risk.DisputeNotice
	settlements chan risk.SettlementNotice
	snapshots   chan []market.MarketOpportunity
	log         zerolog.Logger

	skipped int
}

func newFeed(depth int, log zerolog.Logger) *feed {
	return &feed{
		signals:     make(chan market.Signal, depth),
		disputes:    make(chan risk.DisputeNotice, depth),
		settlements: make(chan risk.SettlementNotice, depth),
		snapshots:   make(chan []market.MarketOpportunity, 1),
		log:         log.With().Str("component", "feed").Logger(),
	}
}

func (f *feed) inputs() engine.Inputs {
	return engine.Inputs{
		Signals:     []<-chan market.Signal{f.signals},
		Disputes:    f.disputes,
		Settlements: f.settlements,
		Snapshots:   f.snapshots,
	}
}

// read consumes r until EOF or ctx ends and closes every channel on return.
// Malformed lines are logged and skipped.
func (f *feed) read(ctx context.Context, r io.Reader) error {
	defer func() {
		close(f.signals)
		close(f.disputes)
		close(f.settlements)
		close(f.snapshots)
	}()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var fl feedLine
		if err := json.Unmarshal(line, &fl); err != nil {
			f.skipped++
			f.log.Warn().Err(err).Int("line", n).Msg("malformed feed line")
			continue
		}
		if err := f.dispatch(ctx, fl); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read feed: %w", err)
	}
	return nil
}

func (f *feed) dispatch(ctx context.Context, fl feedLine) error {
	var send func() bool
	switch {
	case fl.Signal != nil:
		send = func() bool {
			select {
			case f.signals <- *fl.Signal:
				return true
			case <-ctx.Done():
				return false
			}
		}
	case fl.Dispute != nil:
		send = func() bool {
			select {
			case f.disputes <- *fl.Dispute:
				return true
			case <-ctx.Done():
				return false
			}
		}
	case fl.Settle != nil:
		send = func() bool {
			select {
			case f.settlements <- *fl.Settle:
				return true
			case <-ctx.Done():
				return false
			}
		}
	case len(fl.Snapshot) > 0:
		send = func() bool {
			select {
			case f.snapshots <- fl.Snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		}
	default:
		f.skipped++
		f.log.Warn().Msg("feed line without payload")
		return nil
	}
	if !send() {
		return ctx.Err()
	}
	return nil
}

func openFeed(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// loadOpportunities reads a YAML list of opportunities.
func loadOpportunities(path string) ([]market.MarketOpportunity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opportunities: %w", err)
	}
	var opps []market.MarketOpportunity
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opps); err != nil {
		return nil, fmt.Errorf("parse opportunities %s: %w", path, err)
	}
	return opps, nil
}
