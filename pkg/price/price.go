package price

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrUnavailable means no source could serve a price for the symbol.
var ErrUnavailable = errors.New("price: unavailable")

// NoExchange is the exchange name reported when every source failed.
const NoExchange = "None"

// Quote is one price observation and the exchange that served it.
type Quote struct {
	Price    decimal.Decimal
	Exchange string
	Time     time.Time
}

// Source serves the current price of a canonical symbol on one exchange.
// Implementations normalize the symbol to their own quoting convention.
type Source interface {
	Name() string
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Config tunes the aggregated provider.
type Config struct {
	// Timeout bounds one full Price call across all sources.
	Timeout time.Duration
	// CacheTTL is how long a quote is served from cache. Entries older
	// than twice the TTL are evicted.
	CacheTTL time.Duration
	// RateLimit caps outgoing source calls per second.
	RateLimit rate.Limit
	Burst     int
}

// Multi asks each source in priority order and returns the first usable
// quote. Quotes are cached briefly so concurrent monitors polling the
// same symbol don't multiply requests.
type Multi struct {
	sources []Source
	timeout time.Duration
	ttl     time.Duration
	limiter *rate.Limiter
	log     *logrus.Entry
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]Quote
}

// NewMulti builds the aggregated provider. Source order is the priority
// order.
func NewMulti(cfg Config, log *logrus.Entry, sources ...Source) *Multi {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RateLimit)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Multi{
		sources: sources,
		timeout: cfg.Timeout,
		ttl:     cfg.CacheTTL,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		log:     log,
		now:     time.Now,
		cache:   make(map[string]Quote),
	}
}

// Price returns the current quote for the symbol, trying sources in
// order. A timeout or a failure of every source yields ErrUnavailable
// with the exchange set to NoExchange; callers decide how many of those
// they tolerate.
func (m *Multi) Price(ctx context.Context, symbol string) (Quote, error) {
	if q, ok := m.cached(symbol); ok {
		return q, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	for _, src := range m.sources {
		if err := m.limiter.Wait(ctx); err != nil {
			return Quote{Exchange: NoExchange}, ErrUnavailable
		}
		p, err := src.Price(ctx, symbol)
		if err != nil {
			m.log.WithField("exchange", src.Name()).WithField("symbol", symbol).Debug(err)
			continue
		}
		if !p.IsPositive() {
			continue
		}
		q := Quote{Price: p, Exchange: src.Name(), Time: m.now()}
		m.put(symbol, q)
		return q, nil
	}
	return Quote{Exchange: NoExchange}, ErrUnavailable
}

func (m *Multi) cached(symbol string) (Quote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for sym, q := range m.cache {
		if now.Sub(q.Time) > 2*m.ttl {
			delete(m.cache, sym)
		}
	}
	q, ok := m.cache[symbol]
	if !ok || now.Sub(q.Time) > m.ttl {
		return Quote{}, false
	}
	return q, true
}

func (m *Multi) put(symbol string, q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[symbol] = q
}
