package market

import (
	"errors"
	"sort"
	"sync"
)

var ErrUnknownMarket = errors.New("market not tracked")

// Source is the scanner boundary: anything that can hand out the current
// set of tracked opportunities.
type Source interface {
	Snapshot() []MarketOpportunity
}

// Store is an eventually consistent cache of scanner snapshots.
type Store struct {
	mu   sync.RWMutex
	opps map[string]MarketOpportunity
}

func NewStore() *Store {
	return &Store{opps: make(map[string]MarketOpportunity)}
}

// Set inserts or replaces one opportunity. A dispute already recorded for
// the market survives a scanner refresh.
func (s *Store) Set(o MarketOpportunity) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.opps[o.MarketID]; ok && prev.Disputed {
		o.Disputed = true
	}
	s.opps[o.MarketID] = o
	return nil
}

// Replace swaps in a full scanner pass. Invalid entries are skipped and
// returned as errors; valid ones are still applied.
func (s *Store) Replace(snapshot []MarketOpportunity) []error {
	var errs []error
	next := make(map[string]MarketOpportunity, len(snapshot))
	for _, o := range snapshot {
		if err := o.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		next[o.MarketID] = o
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range next {
		if prev, ok := s.opps[id]; ok && prev.Disputed {
			o.Disputed = true
			next[id] = o
		}
	}
	s.opps = next
	return errs
}

func (s *Store) Get(marketID string) (MarketOpportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.opps[marketID]
	if !ok {
		return MarketOpportunity{}, ErrUnknownMarket
	}
	return o, nil
}

// SetDisputed flags a tracked market. It reports whether the market was tracked.
func (s *Store) SetDisputed(marketID string, disputed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[marketID]
	if !ok {
		return false
	}
	o.Disputed = disputed
	s.opps[marketID] = o
	return true
}

// UpdateBooks replaces the ladders of a tracked market.
func (s *Store) UpdateBooks(marketID string, yes, no OrderBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[marketID]
	if !ok {
		return ErrUnknownMarket
	}
	o.Yes, o.No = yes, no
	if err := o.Validate(); err != nil {
		return err
	}
	s.opps[marketID] = o
	return nil
}

// Snapshot returns a copy ordered by market id so every pass sees the same
// iteration order.
func (s *Store) Snapshot() []MarketOpportunity {
	s.mu.RLock()
	out := make([]MarketOpportunity, 0, len(s.opps))
	for _, o := range s.opps {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.opps)
}
