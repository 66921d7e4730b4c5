package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubSource struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
	block bool
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return decimal.Decimal{}, ctx.Err()
	}
	return s.price, s.err
}

func TestMultiPriority(t *testing.T) {
	down := &stubSource{name: "First", err: errors.New("down")}
	up := &stubSource{name: "Second", price: decimal.NewFromInt(42)}
	m := NewMulti(Config{}, nil, down, up)

	q, err := m.Price(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if q.Exchange != "Second" {
		t.Errorf("want exchange Second, got %s", q.Exchange)
	}
	if !q.Price.Equal(decimal.NewFromInt(42)) {
		t.Errorf("want price 42, got %s", q.Price)
	}
	if down.calls != 1 {
		t.Errorf("first source not tried: %d calls", down.calls)
	}
}

func TestMultiExhausted(t *testing.T) {
	a := &stubSource{name: "A", err: errors.New("down")}
	b := &stubSource{name: "B", err: errors.New("down")}
	m := NewMulti(Config{}, nil, a, b)

	q, err := m.Price(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if q.Exchange != NoExchange {
		t.Errorf("want exchange %s, got %s", NoExchange, q.Exchange)
	}
}

func TestMultiZeroPriceSkipped(t *testing.T) {
	a := &stubSource{name: "A", price: decimal.Decimal{}}
	b := &stubSource{name: "B", price: decimal.NewFromInt(7)}
	m := NewMulti(Config{}, nil, a, b)

	q, err := m.Price(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if q.Exchange != "B" {
		t.Errorf("want exchange B, got %s", q.Exchange)
	}
}

func TestMultiCache(t *testing.T) {
	src := &stubSource{name: "A", price: decimal.NewFromInt(10)}
	m := NewMulti(Config{CacheTTL: time.Minute}, nil, src)

	if _, err := m.Price(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Price(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("want 1 source call, got %d", src.calls)
	}

	// stale entries beyond twice the TTL are evicted and re-fetched
	m.mu.Lock()
	q := m.cache["BTCUSDT"]
	q.Time = q.Time.Add(-3 * time.Minute)
	m.cache["BTCUSDT"] = q
	m.mu.Unlock()
	if _, err := m.Price(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("want 2 source calls after eviction, got %d", src.calls)
	}
}

func TestMultiTimeout(t *testing.T) {
	slow := &stubSource{name: "Slow", block: true}
	m := NewMulti(Config{Timeout: 20 * time.Millisecond}, nil, slow)

	start := time.Now()
	_, err := m.Price(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not honored: %s", elapsed)
	}
}
