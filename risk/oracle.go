package risk

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// DisputeNotice comes from the dispute-tracking collaborator. Raised=false
// clears an earlier dispute.
type DisputeNotice struct {
	MarketID string    `json:"market_id" yaml:"market_id"`
	Raised   bool      `json:"raised" yaml:"raised"`
	Detail   string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	At       time.Time `json:"at" yaml:"at"`
}

// SettlementNotice reports a market's final outcome.
type SettlementNotice struct {
	MarketID string         `json:"market_id" yaml:"market_id"`
	Winner   market.Outcome `json:"winner" yaml:"winner"`
	At       time.Time      `json:"at" yaml:"at"`
}

type OracleParams struct {
	FlattenOnDispute bool
}

// OracleMonitor tracks dispute state for tracked and held markets.
type OracleMonitor struct {
	mu       sync.RWMutex
	p        OracleParams
	disputed map[string]DisputeNotice

	store  *market.Store
	ledger *Ledger
	log    zerolog.Logger
}

func NewOracleMonitor(p OracleParams, store *market.Store, ledger *Ledger, log zerolog.Logger) *OracleMonitor {
	return &OracleMonitor{
		p:        p,
		disputed: map[string]DisputeNotice{},
		store:    store,
		ledger:   ledger,
		log:      log.With().Str("component", "oracle").Logger(),
	}
}

func (m *OracleMonitor) IsDisputed(marketID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.disputed[marketID]
	return ok
}

// Disputed returns a copy of the dispute set.
func (m *OracleMonitor) Disputed() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.disputed))
	for id := range m.disputed {
		out[id] = true
	}
	return out
}

// OnDispute records n. For a raised dispute on a held market it returns
// one sell candidate per held outcome when flattening is enabled. Notices
// for markets that are neither tracked nor held are ignored.
func (m *OracleMonitor) OnDispute(n DisputeNotice) []market.TradeCandidate {
	held := m.ledger.PositionsIn(n.MarketID)
	opp, err := m.store.Get(n.MarketID)
	tracked := err == nil
	if !tracked && len(held) == 0 {
		m.log.Debug().Str("market", n.MarketID).Msg("dispute for untracked market ignored")
		return nil
	}

	m.mu.Lock()
	if n.Raised {
		m.disputed[n.MarketID] = n
	} else {
		delete(m.disputed, n.MarketID)
	}
	m.mu.Unlock()
	if tracked {
		m.store.SetDisputed(n.MarketID, n.Raised)
	}

	m.log.Warn().Str("market", n.MarketID).Bool("raised", n.Raised).Int("held", len(held)).Str("detail", n.Detail).Msg("dispute")
	if !n.Raised || !m.p.FlattenOnDispute || len(held) == 0 {
		return nil
	}

	if !tracked {
		opp = market.MarketOpportunity{MarketID: n.MarketID}
	}
	opp.Disputed = true

	var out []market.TradeCandidate
	for _, p := range held {
		if opp.EventID == "" {
			opp.EventID = p.EventID
		}
		c, ok := flattenCandidate(opp, p)
		if !ok {
			m.log.Error().Str("market", p.MarketID).Str("outcome", string(p.Outcome)).Msg("no bids to flatten into")
			continue
		}
		out = append(out, c)
	}
	return out
}

func flattenCandidate(opp market.MarketOpportunity, p Position) (market.TradeCandidate, bool) {
	fill := opp.Book(p.Outcome).WalkBids(p.Shares)
	if fill.Shares.IsZero() {
		return market.TradeCandidate{}, false
	}
	return market.TradeCandidate{
		Match:     market.MatchResult{Opportunity: opp, Implied: p.Outcome, Reason: "dispute flatten"},
		Outcome:   p.Outcome,
		Side:      market.Sell,
		OrderType: market.FOK,
		Joint:     market.One,
		Price:     fill.WorstPrice,
		AvgPrice:  fill.AvgPrice,
		Requested: fill.Notional,
		Size:      fill.Notional,
		Shares:    p.Shares,
		Liquidity: opp.Book(p.Outcome).BidDepth(),
		Synthetic: true,
	}, true
}

// OnSettlement closes held positions in the market and clears its dispute.
func (m *OracleMonitor) OnSettlement(n SettlementNotice) ([]Position, error) {
	m.mu.Lock()
	delete(m.disputed, n.MarketID)
	m.mu.Unlock()

	closed, err := m.ledger.Settle(n.MarketID, n.Winner)
	for _, p := range closed {
		m.log.Info().Str("market", p.MarketID).Str("outcome", string(p.Outcome)).Stringer("realized", p.Realized).Msg("settled")
	}
	return closed, err
}

// Exposure is the capital held in oracle-resolved markets.
func (m *OracleMonitor) Exposure() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range m.ledger.OpenPositions() {
		if p.OracleResolved {
			sum = sum.Add(p.Size)
		}
	}
	return sum
}

// DisputedMarkets lists disputed market ids in order.
func (m *OracleMonitor) DisputedMarkets() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.disputed))
	for id := range m.disputed {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}
