package track

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/igolaizola/zelatari/pkg/state"
	"github.com/shopspring/decimal"
)

// monitor polls the price of one tracked signal until every take profit
// is crossed, the stop is hit, or the symbol turns out not to exist.
// Cancellation stops the monitor without writing a history record.
func (t *Tracker) monitor(ctx context.Context, id string) {
	log := t.log.WithField("id", id)
	reached := map[int]struct{}{}
	var nerr int

	tick, update := ticker(t.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}
		tick = update

		sig, ok := t.peek(id)
		if !ok {
			return
		}
		quote, err := t.provider.Price(ctx, sig.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			nerr++
			log.WithError(err).Warnf("track: couldn't get price of %s (%d/%d)", sig.Symbol, nerr, t.cfg.MaxPriceFails)
			if nerr >= t.cfg.MaxPriceFails {
				if t.finish(id, sig, ReasonSymbolNotFound, decimal.Decimal{}) {
					t.notify(fmt.Sprintf("⚠️ %s dropped, no price source serves it", sig.Symbol))
				}
				return
			}
			continue
		}
		nerr = 0

		// Market signals fill at the first observed price.
		if len(sig.Entries) == 0 {
			sig = t.fillEntry(id, quote.Price)
			if sig == nil {
				return
			}
			t.notify(fmt.Sprintf("▶️ %s %s entered at %s", sig.Symbol, sig.Direction, quote.Price))
		}

		// Take profit edits may shrink the list; forget marks that
		// no longer point at a target.
		for i := range reached {
			if i >= len(sig.TakeProfits) {
				delete(reached, i)
			}
		}

		// A crossed target stays crossed even if the price retreats.
		for i, tp := range sig.TakeProfits {
			if _, ok := reached[i]; ok {
				continue
			}
			crossed := quote.Price.GreaterThanOrEqual(tp)
			if sig.Direction == signal.Short {
				crossed = quote.Price.LessThanOrEqual(tp)
			}
			if !crossed {
				continue
			}
			reached[i] = struct{}{}
			t.notify(fmt.Sprintf("🎯 %s take profit %d/%d hit at %s", sig.Symbol, i+1, len(sig.TakeProfits), quote.Price))
		}
		idxs := make([]int, 0, len(reached))
		for i := range reached {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)

		pnl := sig.PnL(quote.Price)
		t.view.PutSignal(snapshot(id, sig, pnl, idxs, quote))
		t.view.PutPrice(sig.Symbol, state.PriceView{
			CurrentPrice: quote.Price,
			EntryPrice:   sig.Entry(),
			PnLPercent:   pnl,
			Time:         quote.Time,
			Exchange:     quote.Exchange,
		})

		if len(sig.TakeProfits) > 0 && len(reached) == len(sig.TakeProfits) {
			if t.finish(id, sig, ReasonAllTargets, quote.Price) {
				t.notify(fmt.Sprintf("✅ %s closed at %s, all take profits reached (%s%%)", sig.Symbol, quote.Price, pnl.StringFixed(2)))
			}
			return
		}
		if !sig.Stop.IsZero() {
			stopped := quote.Price.LessThanOrEqual(sig.Stop)
			if sig.Direction == signal.Short {
				stopped = quote.Price.GreaterThanOrEqual(sig.Stop)
			}
			if stopped {
				if t.finish(id, sig, ReasonStopLoss, quote.Price) {
					t.notify(fmt.Sprintf("🛑 %s stopped out at %s (%s%%)", sig.Symbol, quote.Price, pnl.StringFixed(2)))
				}
				return
			}
		}
	}
}

// finish retires a signal into history and reports whether it did. At
// most one terminal record is written per signal: concurrent removal
// wins and leaves no record.
func (t *Tracker) finish(id string, sig *signal.Signal, reason Reason, closePrice decimal.Decimal) bool {
	t.mu.Lock()
	if _, ok := t.active[id]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.active, id)
	cancel := t.cancels[id]
	delete(t.cancels, id)
	t.mu.Unlock()

	t.view.DropSignal(id)
	if err := t.store.Append(newRecord(id, sig, reason, closePrice)); err != nil {
		t.log.WithError(err).Errorf("track: couldn't archive %s", id)
	}
	t.log.WithField("id", id).WithField("reason", reason).Info("signal closed")
	if cancel != nil {
		cancel()
	}
	return true
}

func ticker(wait time.Duration) (<-chan time.Time, <-chan time.Time) {
	// Don't wait ticker time on first run
	closedTick := make(chan time.Time)
	close(closedTick)
	tick := (<-chan time.Time)(closedTick)
	ticker := time.NewTicker(wait)
	return tick, ticker.C
}
