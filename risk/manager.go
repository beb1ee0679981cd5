package risk

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// Manager owns the global halt and capital state. Readers get snapshots;
// every write goes through Commit or one of the Apply methods.
type Manager struct {
	Ledger     *Ledger
	KillSwitch *KillSwitch
	Oracle     *OracleMonitor
	Chain      *Chain
	Quality    QualityFilter

	clock    util.Clock
	log      zerolog.Logger
	commitMu sync.Mutex
}

type ManagerParams struct {
	Ledger     LedgerParams
	KillSwitch KillSwitchParams
	Gates      GateParams
	Oracle     OracleParams
}

func NewManager(p ManagerParams, store *market.Store, clock util.Clock, log zerolog.Logger) *Manager {
	if clock == nil {
		clock = util.RealClock{}
	}
	ledger := NewLedger(p.Ledger, clock)
	return &Manager{
		Ledger:     ledger,
		KillSwitch: NewKillSwitch(p.KillSwitch, clock, log),
		Oracle:     NewOracleMonitor(p.Oracle, store, ledger, log),
		Chain:      NewChain(p.Gates),
		Quality:    NewQualityFilter(p.Gates.Quality),
		clock:      clock,
		log:        log.With().Str("component", "risk").Logger(),
	}
}

func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{At: m.clock.Now()}
	s.Halted, s.HaltCause = m.KillSwitch.Halted()
	m.Ledger.fill(&s)
	s.Disputed = m.Oracle.Disputed()
	return s
}

func (m *Manager) Evaluate(c market.TradeCandidate, s Snapshot) Verdict {
	return m.Chain.Evaluate(c, s)
}

// Commit re-checks the halt flag and reserves capital in one critical
// section. The returned error is a *Veto for expected refusals.
func (m *Manager) Commit(c market.TradeCandidate) (Reservation, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	if halted, cause := m.KillSwitch.Halted(); halted {
		return Reservation{}, veto(KillSwitchHalted, "halted: %s", cause)
	}
	r, err := m.Ledger.Commit(c)
	return r, m.guard(err)
}

// ApplyFill folds a confirmed fill back into capital and positions.
func (m *Manager) ApplyFill(r Reservation, price, shares, fee decimal.Decimal) (Position, error) {
	m.KillSwitch.RecordTransport(true)
	m.KillSwitch.RecordExecution(false)

	if r.Side == market.Sell {
		p, err := m.Ledger.CloseExit(r, price, fee)
		if err != nil {
			return p, m.guard(err)
		}
		m.realized(p)
		return p, nil
	}
	p, err := m.Ledger.Open(r, price, shares, fee)
	return p, m.guard(err)
}

// ApplyFailure releases r. transport marks failures where the executor
// could not be reached at all.
func (m *Manager) ApplyFailure(r Reservation, transport bool) error {
	m.KillSwitch.RecordTransport(!transport)
	m.KillSwitch.RecordExecution(true)
	return m.guard(m.Ledger.Release(r))
}

func (m *Manager) Dispute(n DisputeNotice) []market.TradeCandidate {
	return m.Oracle.OnDispute(n)
}

func (m *Manager) Settle(n SettlementNotice) ([]Position, error) {
	closed, err := m.Oracle.OnSettlement(n)
	for _, p := range closed {
		m.realized(p)
	}
	return closed, m.guard(err)
}

func (m *Manager) realized(p Position) {
	m.KillSwitch.RecordRealized(p.Realized, m.Ledger.Bankroll().DailyPnL)
}

// guard halts on state corruption and passes err through.
func (m *Manager) guard(err error) error {
	if err != nil && errors.Is(err, ErrStateCorruption) {
		m.log.Error().Err(err).Msg("state corruption")
		m.KillSwitch.Trip(CauseStateCorruption, err.Error())
	}
	return err
}
