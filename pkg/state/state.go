package state

import (
	"sync"
	"time"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/shopspring/decimal"
)

// SignalView is the live dashboard snapshot of one tracked signal,
// keyed by signal id.
type SignalView struct {
	ID           string            `json:"signal_id"`
	Symbol       string            `json:"symbol"`
	Direction    signal.Direction  `json:"direction"`
	Entries      []decimal.Decimal `json:"entry_prices"`
	Limits       []decimal.Decimal `json:"limit_prices"`
	TakeProfits  []decimal.Decimal `json:"take_profits"`
	Stop         decimal.Decimal   `json:"stop_loss"`
	Leverage     int               `json:"leverage"`
	Margin       decimal.Decimal   `json:"margin"`
	Source       string            `json:"source"`
	PnLPercent   decimal.Decimal   `json:"pnl_percent"`
	ReachedTPs   []int             `json:"reached_tps"`
	Exchange     string            `json:"exchange"`
	Time         time.Time         `json:"timestamp"`
	CurrentPrice decimal.Decimal   `json:"current_price"`
}

// PriceView is the latest price observation for one symbol.
type PriceView struct {
	CurrentPrice decimal.Decimal `json:"current_price"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	PnLPercent   decimal.Decimal `json:"pnl_percent"`
	Time         time.Time       `json:"timestamp"`
	Exchange     string          `json:"exchange"`
}

// Store is the shared read model: live signal and price snapshots
// written by monitors and read by the dashboard and the control chat.
// Writes for different keys never corrupt each other.
type Store struct {
	mu         sync.RWMutex
	signals    map[string]SignalView
	prices     map[string]PriceView
	updated    map[string]time.Time
	lastUpdate time.Time
}

func New() *Store {
	return &Store{
		signals: make(map[string]SignalView),
		prices:  make(map[string]PriceView),
		updated: make(map[string]time.Time),
	}
}

func (s *Store) PutSignal(v SignalView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[v.ID] = v
	s.updated[v.ID] = time.Now()
	s.lastUpdate = time.Now()
}

func (s *Store) PutPrice(symbol string, v PriceView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = v
	s.lastUpdate = time.Now()
}

func (s *Store) DropSignal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signals, id)
	delete(s.updated, id)
	s.lastUpdate = time.Now()
}

func (s *Store) Signal(id string) (SignalView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.signals[id]
	return v, ok
}

// Signals returns a copy of every live signal snapshot, refreshed
// against the latest price for its symbol. Reached target indices only
// grow: the refresh may add newly crossed targets but never unmarks one
// the monitor already reported.
func (s *Store) Signals() map[string]SignalView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SignalView, len(s.signals))
	for id, v := range s.signals {
		v.Entries = append([]decimal.Decimal(nil), v.Entries...)
		v.Limits = append([]decimal.Decimal(nil), v.Limits...)
		v.TakeProfits = append([]decimal.Decimal(nil), v.TakeProfits...)
		v.ReachedTPs = append([]int(nil), v.ReachedTPs...)
		if p, ok := s.prices[v.Symbol]; ok {
			v.CurrentPrice = p.CurrentPrice
			v.PnLPercent = p.PnLPercent
			v.Exchange = p.Exchange
			v.ReachedTPs = refreshReached(v, p.CurrentPrice)
		}
		out[id] = v
	}
	return out
}

func refreshReached(v SignalView, price decimal.Decimal) []int {
	reached := make(map[int]struct{}, len(v.ReachedTPs))
	for _, i := range v.ReachedTPs {
		reached[i] = struct{}{}
	}
	for i, tp := range v.TakeProfits {
		crossed := price.GreaterThanOrEqual(tp)
		if v.Direction == signal.Short {
			crossed = price.LessThanOrEqual(tp)
		}
		if crossed {
			reached[i] = struct{}{}
		}
	}
	out := make([]int, 0, len(reached))
	for i := range v.TakeProfits {
		if _, ok := reached[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

// Prices returns a copy of the per-symbol price snapshots.
func (s *Store) Prices() map[string]PriceView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PriceView, len(s.prices))
	for sym, v := range s.prices {
		out[sym] = v
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Sweep drops signal snapshots not refreshed within maxAge. Monitors
// normally remove their own entries; the sweep clears leftovers from
// signals that stopped updating. Returns how many were removed.
func (s *Store) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var n int
	for id := range s.signals {
		if s.updated[id].Before(cutoff) {
			delete(s.signals, id)
			delete(s.updated, id)
			n++
		}
	}
	if n > 0 {
		s.lastUpdate = time.Now()
	}
	return n
}
