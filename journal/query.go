package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("journal record not found")

const decisionColumns = `id, signal_id, market_id, event_id, outcome, side, terminal, admitted, veto, detail,
	signal_confidence, match_confidence, joint_confidence, edge, price, requested, size, profit, fill_price,
	synthetic, decided_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (DecisionRecord, error) {
	var rec DecisionRecord
	err := row.Scan(
		&rec.ID, &rec.SignalID, &rec.MarketID, &rec.EventID, &rec.Outcome, &rec.Side,
		&rec.Terminal, &rec.Admitted, &rec.Veto, &rec.Detail,
		&rec.SignalConfidence, &rec.MatchConfidence, &rec.JointConfidence,
		&rec.Edge, &rec.Price, &rec.Requested, &rec.Size, &rec.Profit, &rec.FillPrice,
		&rec.Synthetic, &rec.DecidedAt,
	)
	return rec, err
}

// GetDecision returns a single decision by id.
func (j *SQLite) GetDecision(id string) (DecisionRecord, error) {
	row := j.db.QueryRow(`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)
	rec, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DecisionRecord{}, fmt.Errorf("decision %q: %w", id, ErrNotFound)
		}
		return DecisionRecord{}, err
	}
	return rec, nil
}

// DecisionFilter narrows ListDecisions. Zero fields do not filter.
type DecisionFilter struct {
	SignalID string
	MarketID string
	Terminal string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ListDecisions returns matching decisions oldest first.
func (j *SQLite) ListDecisions(f DecisionFilter) ([]DecisionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.SignalID != "" {
		where = append(where, "signal_id = ?")
		args = append(args, f.SignalID)
	}
	if f.MarketID != "" {
		where = append(where, "market_id = ?")
		args = append(args, f.MarketID)
	}
	if f.Terminal != "" {
		where = append(where, "terminal = ?")
		args = append(args, f.Terminal)
	}
	if !f.Since.IsZero() {
		where = append(where, "decided_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where = append(where, "decided_at < ?")
		args = append(args, f.Until.UTC())
	}

	q := `SELECT ` + decisionColumns + ` FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY decided_at ASC, id ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSignalsBetween returns signal outcomes decided within [start, end).
func (j *SQLite) ListSignalsBetween(start, end time.Time) ([]SignalRecord, error) {
	rows, err := j.db.Query(`
		SELECT signal_id, source, indicator, fact, confidence, terminal, reason, matches, candidates, observed_at, decided_at
		FROM signals
		WHERE decided_at >= ? AND decided_at < ?
		ORDER BY decided_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		if err := rows.Scan(
			&rec.SignalID, &rec.Source, &rec.Indicator, &rec.Fact, &rec.Confidence,
			&rec.Terminal, &rec.Reason, &rec.Matches, &rec.Candidates,
			&rec.ObservedAt, &rec.DecidedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) ListTransitions() ([]TransitionRecord, error) {
	rows, err := j.db.Query(`
		SELECT from_state, to_state, cause, detail, at
		FROM transitions
		ORDER BY at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.From, &rec.To, &rec.Cause, &rec.Detail, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPositions returns position rows, optionally only one status.
func (j *SQLite) ListPositions(status string) ([]PositionRecord, error) {
	q := `
		SELECT position_id, market_id, event_id, outcome, shares, cost, entry_price, exit_price, fee, realized,
		       status, close_reason, opened_at, closed_at
		FROM positions`
	var args []any
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	q += " ORDER BY opened_at ASC, position_id ASC"

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var (
			rec    PositionRecord
			closed sql.NullTime
		)
		if err := rows.Scan(
			&rec.PositionID, &rec.MarketID, &rec.EventID, &rec.Outcome, &rec.Shares, &rec.Cost,
			&rec.EntryPrice, &rec.ExitPrice, &rec.Fee, &rec.Realized,
			&rec.Status, &rec.CloseReason, &rec.OpenedAt, &closed,
		); err != nil {
			return nil, err
		}
		if closed.Valid {
			rec.ClosedAt = closed.Time
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary aggregates a journal window.
type Summary struct {
	Start      time.Time
	End        time.Time
	Signals    int
	ByTerminal map[string]int
	ByVeto     map[string]int
	Closed     int
	Wins       int
	Losses     int
	Realized   decimal.Decimal
	Halts      int
}

// Summarize aggregates signals, vetoes and closed positions within [start, end).
func (j *SQLite) Summarize(start, end time.Time) (Summary, error) {
	s := Summary{
		Start:      start,
		End:        end,
		ByTerminal: map[string]int{},
		ByVeto:     map[string]int{},
		Realized:   decimal.Zero,
	}

	sigs, err := j.ListSignalsBetween(start, end)
	if err != nil {
		return s, err
	}
	s.Signals = len(sigs)
	for _, r := range sigs {
		s.ByTerminal[r.Terminal]++
	}

	decs, err := j.ListDecisions(DecisionFilter{Since: start, Until: end})
	if err != nil {
		return s, err
	}
	for _, r := range decs {
		if r.Veto != "" {
			s.ByVeto[r.Veto]++
		}
	}

	closed, err := j.ListPositions("closed")
	if err != nil {
		return s, err
	}
	for _, p := range closed {
		if p.ClosedAt.Before(start) || !p.ClosedAt.Before(end) {
			continue
		}
		s.Closed++
		s.Realized = s.Realized.Add(p.Realized)
		switch {
		case p.Realized.IsPositive():
			s.Wins++
		case p.Realized.IsNegative():
			s.Losses++
		}
	}

	trs, err := j.ListTransitions()
	if err != nil {
		return s, err
	}
	for _, t := range trs {
		if strings.EqualFold(t.To, "halted") && !t.At.Before(start) && t.At.Before(end) {
			s.Halts++
		}
	}
	return s, nil
}
