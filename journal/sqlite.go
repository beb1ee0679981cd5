package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) exec(query string, args ...any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(query, args...)
	return err
}

func (j *SQLite) RecordSignal(s SignalRecord) error {
	return j.exec(`
		INSERT INTO signals
		(signal_id, source, indicator, fact, confidence, terminal, reason, matches, candidates, observed_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SignalID, s.Source, s.Indicator, s.Fact, s.Confidence.String(), s.Terminal, s.Reason,
		s.Matches, s.Candidates, s.ObservedAt.UTC(), s.DecidedAt.UTC(),
	)
}

func (j *SQLite) RecordDecision(d DecisionRecord) error {
	return j.exec(`
		INSERT INTO decisions
		(id, signal_id, market_id, event_id, outcome, side, terminal, admitted, veto, detail,
		 signal_confidence, match_confidence, joint_confidence, edge, price, requested, size, profit, fill_price,
		 synthetic, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SignalID, d.MarketID, d.EventID, d.Outcome, d.Side, d.Terminal, d.Admitted, d.Veto, d.Detail,
		d.SignalConfidence.String(), d.MatchConfidence.String(), d.JointConfidence.String(),
		d.Edge.String(), d.Price.String(), d.Requested.String(), d.Size.String(), d.Profit.String(),
		d.FillPrice.String(), d.Synthetic, d.DecidedAt.UTC(),
	)
}

func (j *SQLite) RecordTransition(t TransitionRecord) error {
	return j.exec(`
		INSERT INTO transitions (from_state, to_state, cause, detail, at)
		VALUES (?, ?, ?, ?, ?)`,
		t.From, t.To, t.Cause, t.Detail, t.At.UTC(),
	)
}

// RecordPosition keeps at most one open and one closed row per position.
func (j *SQLite) RecordPosition(p PositionRecord) error {
	var closed any
	if !p.ClosedAt.IsZero() {
		closed = p.ClosedAt.UTC()
	}
	return j.exec(`
		INSERT OR REPLACE INTO positions
		(position_id, market_id, event_id, outcome, shares, cost, entry_price, exit_price, fee, realized,
		 status, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PositionID, p.MarketID, p.EventID, p.Outcome, p.Shares.String(), p.Cost.String(),
		p.EntryPrice.String(), p.ExitPrice.String(), p.Fee.String(), p.Realized.String(),
		p.Status, p.CloseReason, p.OpenedAt.UTC(), closed,
	)
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
