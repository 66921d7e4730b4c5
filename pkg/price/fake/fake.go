package fake

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// Source is a synthetic price feed for dry runs. Each symbol starts at a
// price derived from its name and wanders a fraction of a percent per
// call, so the whole pipeline can run without network access.
type Source struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]decimal.Decimal
}

func New(seed int64) *Source {
	return &Source{
		rnd:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]decimal.Decimal),
	}
}

func (s *Source) Name() string {
	return "Fake"
}

func (s *Source) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		p = base(symbol)
	}
	// step within ±0.5%
	step := decimal.NewFromFloat((s.rnd.Float64() - 0.5) / 100)
	p = p.Add(p.Mul(step)).Round(8)
	s.prices[symbol] = p
	return p, nil
}

// Set pins the next price for a symbol.
func (s *Source) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func base(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	// spread starting prices between 0.01 and ~655
	cents := int64(h.Sum32()%65536) + 1
	return decimal.New(cents, -2)
}
