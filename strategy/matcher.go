package strategy

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/market"
	"github.com/shopspring/decimal"
)

// Specificity weights applied to a signal's source confidence.
var (
	ExactWeight    = decimal.NewFromInt(1)
	PatternWeight  = decimal.RequireFromString("0.95")
	CategoryWeight = decimal.RequireFromString("0.75")
)

// aliases widen indicator tokens to the phrasing market questions use.
var aliases = map[string][]string{
	"cpi":     {"consumer price index", "inflation"},
	"yoy":     {"year-over-year", "year over year", "annual"},
	"mom":     {"month-over-month", "month over month", "monthly"},
	"nfp":     {"nonfarm payrolls", "non-farm payrolls", "payrolls"},
	"unrate":  {"unemployment rate", "unemployment"},
	"gdp":     {"gross domestic product"},
	"fomc":    {"fed funds", "federal reserve", "the fed"},
	"btc":     {"bitcoin"},
	"eth":     {"ethereum", "ether"},
	"sol":     {"solana"},
	"pce":     {"personal consumption expenditures"},
	"claims":  {"jobless claims", "initial claims"},
	"ppi":     {"producer price index"},
	"retail":  {"retail sales"},
	"housing": {"housing starts"},
}

type MatcherParams struct {
	// Threshold discards matches whose confidence falls below it.
	Threshold      decimal.Decimal
	MaxSnapshotAge time.Duration
}

// Matcher maps a signal onto the tracked opportunities it resolves.
type Matcher struct {
	p   MatcherParams
	log zerolog.Logger
}

func NewMatcher(p MatcherParams, log zerolog.Logger) *Matcher {
	return &Matcher{p: p, log: log.With().Str("component", "matcher").Logger()}
}

// Match returns results ordered by descending confidence, ties by market id.
// It never blocks and never mutates its inputs.
func (m *Matcher) Match(sig market.Signal, opps []market.MarketOpportunity, now time.Time) []market.MatchResult {
	var out []market.MatchResult
	for _, opp := range opps {
		weight, how, ok := specificity(sig.IndicatorID, opp)
		if !ok {
			continue
		}
		if opp.Stale(now, m.p.MaxSnapshotAge) {
			m.log.Debug().Str("market", opp.MarketID).Time("refreshed_at", opp.RefreshedAt).Msg("stale opportunity skipped")
			continue
		}

		crit, err := ParseCriterion(opp.Criterion)
		if err != nil {
			m.log.Warn().Err(err).Str("market", opp.MarketID).Str("criterion", opp.Criterion).Msg("unparseable criterion")
			continue
		}
		implied, err := crit.Implied(sig)
		if err != nil {
			m.log.Debug().Err(err).Str("market", opp.MarketID).Str("signal", sig.ID).Msg("no implied outcome")
			continue
		}

		conf := sig.Confidence.Mul(weight)
		if conf.LessThan(m.p.Threshold) {
			m.log.Debug().Str("market", opp.MarketID).Stringer("confidence", conf).Msg("match below threshold")
			continue
		}

		out = append(out, market.MatchResult{
			Signal:      sig,
			Opportunity: opp,
			Implied:     implied,
			Confidence:  conf,
			Specificity: weight,
			Reason:      how + ": " + sig.IndicatorID + " vs " + crit.String() + " -> " + string(implied),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Confidence.Cmp(out[j].Confidence); c != 0 {
			return c > 0
		}
		return out[i].Opportunity.MarketID < out[j].Opportunity.MarketID
	})
	return out
}

// specificity grades how closely an opportunity corresponds to an
// indicator. An opportunity tagged with an indicator matches only that
// indicator; untagged ones are matched on their criterion text.
func specificity(indicator string, opp market.MarketOpportunity) (decimal.Decimal, string, bool) {
	if opp.Indicator != "" {
		if strings.EqualFold(opp.Indicator, indicator) {
			return ExactWeight, "exact", true
		}
		return decimal.Zero, "", false
	}

	tokens := indicatorTokens(indicator)
	if len(tokens) == 0 {
		return decimal.Zero, "", false
	}
	text := strings.ToLower(opp.Criterion)

	found := 0
	for _, tok := range tokens {
		if mentions(text, tok) {
			found++
		}
	}
	switch {
	case found == len(tokens):
		return PatternWeight, "pattern", true
	case mentions(text, tokens[0]):
		return CategoryWeight, "category", true
	}
	return decimal.Zero, "", false
}

func indicatorTokens(indicator string) []string {
	return strings.FieldsFunc(strings.ToLower(indicator), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '/' || r == '.'
	})
}

func mentions(text, token string) bool {
	if containsWord(text, token) {
		return true
	}
	for _, alt := range aliases[token] {
		if strings.Contains(text, alt) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	i := 0
	for {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		i = start + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
