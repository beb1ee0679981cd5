package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	signalHeader     = []string{"signal_id", "source", "indicator", "fact", "confidence", "terminal", "reason", "matches", "candidates", "observed_at", "decided_at"}
	decisionHeader   = []string{"id", "signal_id", "market_id", "event_id", "outcome", "side", "terminal", "admitted", "veto", "detail", "signal_confidence", "match_confidence", "joint_confidence", "edge", "price", "requested", "size", "profit", "fill_price", "synthetic", "decided_at"}
	transitionHeader = []string{"from", "to", "cause", "detail", "at"}
	positionHeader   = []string{"position_id", "market_id", "event_id", "outcome", "shares", "cost", "entry_price", "exit_price", "fee", "realized", "status", "close_reason", "opened_at", "closed_at"}
)

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func (c csvFile) write(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// CSV writes one file per record kind into a directory.
type CSV struct {
	mu                                     sync.Mutex
	signals, decisions, transitions, posns csvFile
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j := &CSV{}
	files := []struct {
		name   string
		header []string
		dst    *csvFile
	}{
		{"signals.csv", signalHeader, &j.signals},
		{"decisions.csv", decisionHeader, &j.decisions},
		{"transitions.csv", transitionHeader, &j.transitions},
		{"positions.csv", positionHeader, &j.posns},
	}
	for _, spec := range files {
		f, err := os.Create(filepath.Join(dir, spec.name))
		if err != nil {
			_ = j.Close()
			return nil, err
		}
		*spec.dst = csvFile{f: f, w: csv.NewWriter(f)}
		if err := spec.dst.write(spec.header); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("%s header: %w", spec.name, err)
		}
	}
	return j, nil
}

func (j *CSV) RecordSignal(s SignalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.signals.write([]string{
		s.SignalID, s.Source, s.Indicator, s.Fact, s.Confidence.String(), s.Terminal, s.Reason,
		strconv.Itoa(s.Matches), strconv.Itoa(s.Candidates), ts(s.ObservedAt), ts(s.DecidedAt),
	})
}

func (j *CSV) RecordDecision(d DecisionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.decisions.write([]string{
		d.ID, d.SignalID, d.MarketID, d.EventID, d.Outcome, d.Side, d.Terminal,
		strconv.FormatBool(d.Admitted), d.Veto, d.Detail,
		d.SignalConfidence.String(), d.MatchConfidence.String(), d.JointConfidence.String(),
		d.Edge.String(), d.Price.String(), d.Requested.String(), d.Size.String(), d.Profit.String(),
		d.FillPrice.String(), strconv.FormatBool(d.Synthetic), ts(d.DecidedAt),
	})
}

func (j *CSV) RecordTransition(t TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitions.write([]string{t.From, t.To, t.Cause, t.Detail, ts(t.At)})
}

func (j *CSV) RecordPosition(p PositionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.posns.write([]string{
		p.PositionID, p.MarketID, p.EventID, p.Outcome, p.Shares.String(), p.Cost.String(),
		p.EntryPrice.String(), p.ExitPrice.String(), p.Fee.String(), p.Realized.String(),
		p.Status, p.CloseReason, ts(p.OpenedAt), ts(p.ClosedAt),
	})
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var first error
	for _, c := range []csvFile{j.signals, j.decisions, j.transitions, j.posns} {
		if c.f == nil {
			continue
		}
		c.w.Flush()
		if err := c.w.Error(); err != nil && first == nil {
			first = err
		}
		if err := c.f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
