package track

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/igolaizola/zelatari/pkg/price"
	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/igolaizola/zelatari/pkg/state"
	"github.com/shopspring/decimal"
)

func TestMonitorAllTakeProfits(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("100", "111", "121"),
	}}
	tr, store, view := newTestTracker(t, &fakeParser{}, provider)

	sig := testSignal("BTCUSDT", signal.Long)
	if _, err := tr.Add(sig); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "terminal record", func() bool {
		return store.len() == 1
	})

	rec := store.last()
	if rec.CloseReason != ReasonAllTargets {
		t.Errorf("wrong reason: %s", rec.CloseReason)
	}
	if !rec.ClosePrice.Equal(toDecimal("121")) {
		t.Errorf("wrong close price: %s", rec.ClosePrice)
	}
	if !rec.PnL().Equal(toDecimal("21")) {
		t.Errorf("wrong pnl: %s", rec.PnL())
	}
	if tr.Len() != 0 {
		t.Error("closed signal still tracked")
	}
	if _, ok := view.Signal(sig.ID()); ok {
		t.Error("closed signal still in the read model")
	}
}

func TestMonitorStopLoss(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("100", "95", "89"),
	}}
	tr, store, _ := newTestTracker(t, &fakeParser{}, provider)

	if _, err := tr.Add(testSignal("BTCUSDT", signal.Long)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "terminal record", func() bool {
		return store.len() == 1
	})

	rec := store.last()
	if rec.CloseReason != ReasonStopLoss {
		t.Errorf("wrong reason: %s", rec.CloseReason)
	}
	if !rec.ClosePrice.Equal(toDecimal("89")) {
		t.Errorf("wrong close price: %s", rec.ClosePrice)
	}
	if !rec.PnL().Equal(toDecimal("-11")) {
		t.Errorf("wrong pnl: %s", rec.PnL())
	}
}

func TestMonitorShort(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"ETHUSDT": toDecimals("100", "85", "79"),
	}}
	tr, store, _ := newTestTracker(t, &fakeParser{}, provider)

	sig := &signal.Signal{
		Symbol:      "ETHUSDT",
		Direction:   signal.Short,
		Entries:     toDecimals("100"),
		TakeProfits: toDecimals("90", "80"),
		Stop:        toDecimal("110"),
		Time:        time.Now(),
	}
	if _, err := tr.Add(sig); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "terminal record", func() bool {
		return store.len() == 1
	})

	rec := store.last()
	if rec.CloseReason != ReasonAllTargets {
		t.Errorf("wrong reason: %s", rec.CloseReason)
	}
	if !rec.PnL().Equal(toDecimal("21")) {
		t.Errorf("wrong pnl: %s", rec.PnL())
	}
}

func TestMonitorSymbolNotFound(t *testing.T) {
	provider := &fakeProvider{
		prices: map[string][]decimal.Decimal{},
		errs:   map[string]error{"NOPEUSDT": price.ErrUnavailable},
	}
	tr, store, _ := newTestTracker(t, &fakeParser{}, provider)

	if _, err := tr.Add(testSignal("NOPEUSDT", signal.Long)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "terminal record", func() bool {
		return store.len() == 1
	})

	rec := store.last()
	if rec.CloseReason != ReasonSymbolNotFound {
		t.Errorf("wrong reason: %s", rec.CloseReason)
	}
	if !rec.ClosePrice.IsZero() {
		t.Errorf("close price must be zero: %s", rec.ClosePrice)
	}
	if tr.Len() != 0 {
		t.Error("unresolvable signal still tracked")
	}
}

func TestMonitorMarketEntryFill(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("102", "115"),
	}}
	notes := &notifier{}
	store := &memStore{}
	cfg := Config{PollInterval: 10 * time.Millisecond, MaxPriceFails: 3}
	tr := New(cfg, &fakeParser{}, provider, store, state.New(), testLog(), notes.notify)
	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)
	t.Cleanup(func() {
		cancel()
		tr.Wait()
	})

	sig := &signal.Signal{
		Symbol:      "BTCUSDT",
		Direction:   signal.Long,
		TakeProfits: toDecimals("110"),
		Market:      true,
		Time:        time.Now(),
	}
	if _, err := tr.Add(sig); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "terminal record", func() bool {
		return store.len() == 1
	})

	rec := store.last()
	assertDecimals(t, "entries", rec.Entries, "102")
	if rec.CloseReason != ReasonAllTargets {
		t.Errorf("wrong reason: %s", rec.CloseReason)
	}
	if !notes.contains("entered at 102") {
		t.Errorf("missing fill notification: %v", notes.all())
	}
}

func TestMonitorReachedStaysReached(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("100", "112", "105"),
	}}
	tr, _, view := newTestTracker(t, &fakeParser{}, provider)

	sig := testSignal("BTCUSDT", signal.Long)
	if _, err := tr.Add(sig); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "price to retreat", func() bool {
		v, ok := view.Signal(sig.ID())
		return ok && v.CurrentPrice.Equal(toDecimal("105"))
	})

	v, _ := view.Signal(sig.ID())
	if len(v.ReachedTPs) != 1 || v.ReachedTPs[0] != 0 {
		t.Errorf("reached target unmarked after retreat: %v", v.ReachedTPs)
	}
	if tr.Len() != 1 {
		t.Error("signal must stay tracked until the last target")
	}
}

func TestMonitorViewUpdates(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("105"),
	}}
	tr, _, view := newTestTracker(t, &fakeParser{}, provider)

	sig := testSignal("BTCUSDT", signal.Long)
	if _, err := tr.Add(sig); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "view refresh", func() bool {
		v, ok := view.Signal(sig.ID())
		return ok && v.Exchange == "Fake"
	})

	v, _ := view.Signal(sig.ID())
	if !v.CurrentPrice.Equal(toDecimal("105")) {
		t.Errorf("wrong current price: %s", v.CurrentPrice)
	}
	if !v.PnLPercent.Equal(toDecimal("5")) {
		t.Errorf("wrong pnl: %s", v.PnLPercent)
	}
	prices := view.Prices()
	p, ok := prices["BTCUSDT"]
	if !ok {
		t.Fatal("price snapshot missing")
	}
	if !p.EntryPrice.Equal(toDecimal("100")) {
		t.Errorf("wrong entry price: %s", p.EntryPrice)
	}
}

func TestRemoveWritesNoRecord(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("105"),
	}}
	tr, store, view := newTestTracker(t, &fakeParser{}, provider)

	sig := testSignal("BTCUSDT", signal.Long)
	if _, err := tr.Add(sig); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "first poll", func() bool {
		_, ok := view.Prices()["BTCUSDT"]
		return ok
	})

	if err := tr.Remove(sig.ID()); err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 0 {
		t.Error("removed signal still tracked")
	}
	if _, ok := view.Signal(sig.ID()); ok {
		t.Error("removed signal still in the read model")
	}
	time.Sleep(50 * time.Millisecond)
	if store.len() != 0 {
		t.Error("removal must not write a history record")
	}
}

func TestShutdownWritesNoRecord(t *testing.T) {
	provider := &fakeProvider{prices: map[string][]decimal.Decimal{
		"BTCUSDT": toDecimals("105"),
	}}
	store := &memStore{}
	cfg := Config{PollInterval: 10 * time.Millisecond, MaxPriceFails: 3}
	tr := New(cfg, &fakeParser{}, provider, store, state.New(), testLog(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)

	if _, err := tr.Add(testSignal("BTCUSDT", signal.Long)); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		tr.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitors did not stop on shutdown")
	}
	if store.len() != 0 {
		t.Error("shutdown must not write history records")
	}
}

type notifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notifier) notify(v ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, fmt.Sprint(v...))
}

func (n *notifier) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func (n *notifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}
