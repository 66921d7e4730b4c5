package signal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a position.
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Unknown Direction = "UNKNOWN"
)

// UnknownSymbol marks a signal whose instrument couldn't be resolved.
const UnknownSymbol = "UNKNOWN"

// Signal is one trading instruction extracted from a channel message.
// Entries may be empty for market orders, which fill at the first
// observed price.
type Signal struct {
	Symbol      string
	Direction   Direction
	Entries     []decimal.Decimal
	Limits      []decimal.Decimal
	TakeProfits []decimal.Decimal
	Stop        decimal.Decimal
	Leverage    int
	Margin      decimal.Decimal
	Source      string
	Time        time.Time
	Market      bool
	Filled      bool
	Text        string
}

// Parser turns raw channel text into a signal. It never fails: fields
// that can't be extracted keep their zero value and the symbol falls
// back to UnknownSymbol.
type Parser interface {
	Parse(text, source string) *Signal
}

// ID derives the signal identity from the symbol and the creation second.
func (s *Signal) ID() string {
	return fmt.Sprintf("%s_%d", s.Symbol, s.Time.Unix())
}

// Entry returns the reference entry price, zero when unknown.
func (s *Signal) Entry() decimal.Decimal {
	if len(s.Entries) == 0 {
		return decimal.Decimal{}
	}
	return s.Entries[0]
}

// PnL returns the profit percentage at the given price against the
// reference entry price.
func (s *Signal) PnL(price decimal.Decimal) decimal.Decimal {
	entry := s.Entry()
	if entry.IsZero() {
		return decimal.Decimal{}
	}
	diff := price.Sub(entry)
	if s.Direction == Short {
		diff = entry.Sub(price)
	}
	return diff.Div(entry).Mul(decimal.NewFromInt(100))
}

// Clone returns a deep copy of the signal.
func (s *Signal) Clone() *Signal {
	c := *s
	c.Entries = append([]decimal.Decimal(nil), s.Entries...)
	c.Limits = append([]decimal.Decimal(nil), s.Limits...)
	c.TakeProfits = append([]decimal.Decimal(nil), s.TakeProfits...)
	return &c
}

// SortTargets deduplicates take profits and orders them nearest first:
// ascending for longs, descending for shorts.
func (s *Signal) SortTargets() {
	seen := map[string]struct{}{}
	var targets []decimal.Decimal
	for _, tp := range s.TakeProfits {
		k := tp.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		targets = append(targets, tp)
	}
	sort.Slice(targets, func(i, j int) bool {
		if s.Direction == Short {
			return targets[i].GreaterThan(targets[j])
		}
		return targets[i].LessThan(targets[j])
	})
	s.TakeProfits = targets
}

// FilterTargets drops take profits on the losing side of the entry price
// or closer to it than minGap percent, then restores the direction
// ordering. Signals without a known entry price are only sorted.
func (s *Signal) FilterTargets(minGap decimal.Decimal) {
	entry := s.Entry()
	if entry.IsZero() || len(s.TakeProfits) == 0 {
		s.SortTargets()
		return
	}
	hundred := decimal.NewFromInt(100)
	var targets []decimal.Decimal
	for _, tp := range s.TakeProfits {
		profitable := tp.GreaterThan(entry)
		if s.Direction == Short {
			profitable = tp.LessThan(entry)
		}
		if !profitable {
			continue
		}
		gap := tp.Sub(entry).Abs().Div(entry).Mul(hundred)
		if gap.LessThan(minGap) {
			continue
		}
		targets = append(targets, tp)
	}
	s.TakeProfits = targets
	s.SortTargets()
}

var quoteAssets = []string{"USDT", "BUSD", "BTC", "ETH", "BNB", "EUR", "USD"}

var leveragePrefixes = []string{"10000", "1000", "100", "10"}

// Clean upper-cases a raw symbol candidate, strips everything that isn't
// a letter or digit and removes leveraged-token digit prefixes such as
// the 1000 in 1000PEPE.
func Clean(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(symbol) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	for _, p := range leveragePrefixes {
		rest := strings.TrimPrefix(s, p)
		if rest == s || rest == "" {
			continue
		}
		if rest[0] >= 'A' && rest[0] <= 'Z' {
			return rest
		}
	}
	return s
}

// Normalize converts a raw symbol candidate to the canonical pair form,
// appending the default quote asset when no known quote suffix is
// present. Normalize is idempotent.
func Normalize(symbol string) string {
	s := Clean(symbol)
	if s == "" {
		return ""
	}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) {
			return s
		}
	}
	return s + "USDT"
}

// SplitPair separates a canonical symbol into base and quote assets.
// Symbols without a known quote suffix return the whole symbol as base.
func SplitPair(symbol string) (string, string) {
	for _, quote := range quoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote), quote
		}
	}
	return symbol, ""
}
