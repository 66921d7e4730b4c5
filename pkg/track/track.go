// Package track owns the signal lifecycle: parsed messages are merged,
// validated and admitted here, and every admitted signal gets its own
// monitor goroutine that polls prices until the signal resolves into a
// history record.
package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/igolaizola/zelatari/pkg/price"
	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/igolaizola/zelatari/pkg/state"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound means no active signal has the given id.
	ErrNotFound = errors.New("track: signal not found")
	// ErrFull means the concurrent signal cap was hit at admission.
	ErrFull = errors.New("track: too many active signals")
	// ErrDuplicate means a signal with the same id is already tracked.
	ErrDuplicate = errors.New("track: signal already tracked")
)

// Outcome reports what Submit did with a message.
type Outcome int

const (
	// Ignored means the message wasn't a recognizable, actionable
	// signal and was dropped.
	Ignored Outcome = iota
	// Pending means an entry-only fragment was stored awaiting its
	// targets message.
	Pending
	// Admitted means a signal was admitted and its monitor started.
	Admitted
)

// Parser extracts signals from raw text and decides whether they are
// genuine trade instructions.
type Parser interface {
	Parse(text, source string) *signal.Signal
	Actionable(sig *signal.Signal, text string, preliminary bool) (bool, string)
}

// Provider serves the current price of a symbol. *price.Multi
// implements it.
type Provider interface {
	Price(ctx context.Context, symbol string) (price.Quote, error)
}

// Config tunes the tracker.
type Config struct {
	// MaxSignals caps the number of concurrently tracked signals.
	MaxSignals int
	// MergeTTL is how long an entry-only fragment waits for its
	// targets message.
	MergeTTL time.Duration
	// PollInterval is the monitor price polling cadence.
	PollInterval time.Duration
	// MaxPriceFails is how many consecutive unavailable prices a
	// monitor tolerates before giving the symbol up.
	MaxPriceFails int
}

func (c Config) withDefaults() Config {
	if c.MaxSignals <= 0 {
		c.MaxSignals = 10
	}
	if c.MergeTTL <= 0 {
		c.MergeTTL = 180 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxPriceFails <= 0 {
		c.MaxPriceFails = 5
	}
	return c
}

// partial is an entry-only fragment awaiting its targets message.
type partial struct {
	sig  *signal.Signal
	time time.Time
}

// Tracker is the owner of all live signal state. Monitors only ever
// see snapshots taken under its lock.
type Tracker struct {
	cfg      Config
	parser   Parser
	provider Provider
	store    Store
	view     *state.Store
	log      *logrus.Entry
	notify   func(v ...interface{})

	mu       sync.Mutex
	ctx      context.Context
	active   map[string]*signal.Signal
	cancels  map[string]context.CancelFunc
	partials map[string]partial
	wg       sync.WaitGroup
}

// New builds a tracker. The notify hook receives human-facing events
// (admissions, crossings, terminations); diagnostics go to log.
func New(cfg Config, parser Parser, provider Provider, store Store, view *state.Store, log *logrus.Entry, notify func(v ...interface{})) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Tracker{
		cfg:      cfg.withDefaults(),
		parser:   parser,
		provider: provider,
		store:    store,
		view:     view,
		log:      log,
		notify:   notify,
		ctx:      context.Background(),
		active:   make(map[string]*signal.Signal),
		cancels:  make(map[string]context.CancelFunc),
		partials: make(map[string]partial),
	}
	if t.notify == nil {
		t.notify = func(v ...interface{}) { log.Info(v...) }
	}
	return t
}

// Start binds the tracker to its supervision context: monitors spawned
// by later admissions stop when it is cancelled, without writing
// termination records.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
}

// Wait blocks until every monitor goroutine has stopped.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Submit feeds one raw channel message through extraction, the
// two-message merge window and validation. Unrecognized or preliminary
// messages are dropped silently with a log line; admission failures
// (capacity, duplicates) are returned as errors.
func (t *Tracker) Submit(text, source string, preliminary bool) (Outcome, *signal.Signal, error) {
	t.sweepPartials()
	sig := t.parser.Parse(text, source)
	log := t.log.WithField("source", source).WithField("symbol", sig.Symbol)

	// Entry fragment of a two-message protocol: hold it for the
	// targets message. The newest fragment per symbol wins.
	if sig.Symbol != signal.UnknownSymbol && len(sig.Entries) > 0 && len(sig.TakeProfits) == 0 {
		t.mu.Lock()
		t.partials[sig.Symbol] = partial{sig: sig, time: time.Now()}
		t.mu.Unlock()
		log.Debug("entry fragment stored")
		return Pending, sig, nil
	}

	// Targets-only message: complete a held fragment if one matches.
	if len(sig.TakeProfits) > 0 && len(sig.Entries) == 0 && len(sig.Limits) == 0 {
		if first, ok := t.takePartial(sig.Symbol); ok {
			merged := mergeFragments(first, sig)
			if ok, reason := t.parser.Actionable(merged, merged.Text, preliminary); !ok {
				log.Info("merged signal dropped: ", reason)
				return Ignored, nil, nil
			}
			log.WithField("merged", merged.Symbol).Debug("fragments merged")
			out, err := t.admit(merged)
			return out, merged, err
		}
	}

	ok, reason := t.parser.Actionable(sig, text, preliminary)
	if !ok {
		log.Info("signal dropped: ", reason)
		return Ignored, nil, nil
	}
	out, err := t.admit(sig)
	return out, sig, err
}

// Add admits a manually built signal, bypassing text extraction.
func (t *Tracker) Add(sig *signal.Signal) (Outcome, error) {
	if sig.Symbol == "" || sig.Symbol == signal.UnknownSymbol {
		return Ignored, errors.New("track: signal has no symbol")
	}
	if sig.Direction != signal.Long && sig.Direction != signal.Short {
		return Ignored, errors.New("track: signal has no direction")
	}
	sig.FilterTargets(decimal.Decimal{})
	if len(sig.TakeProfits) == 0 {
		return Ignored, errors.New("track: signal has no take profits")
	}
	if sig.Time.IsZero() {
		sig.Time = time.Now()
	}
	return t.admit(sig)
}

// admit inserts the signal into the active set and spawns its monitor.
func (t *Tracker) admit(sig *signal.Signal) (Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.active) >= t.cfg.MaxSignals {
		return Ignored, fmt.Errorf("%w: %d active", ErrFull, len(t.active))
	}
	id := sig.ID()
	if _, ok := t.active[id]; ok {
		return Ignored, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	t.active[id] = sig
	ctx, cancel := context.WithCancel(t.ctx)
	t.cancels[id] = cancel

	// Seed the read model so dashboards see the signal before the
	// first poll completes.
	t.view.PutSignal(snapshot(id, sig, decimal.Decimal{}, nil, price.Quote{Exchange: "Unknown"}))

	t.log.WithField("id", id).WithField("source", sig.Source).Info("signal admitted")
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.monitor(ctx, id)
	}()
	return Admitted, nil
}

// Edit mutates one field of an active signal. Recognized fields are
// stop_loss, take_profits and entry_prices.
func (t *Tracker) Edit(id, field string, values []decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sig, ok := t.active[id]
	if !ok {
		return fmt.Errorf("couldn't edit %s: %w", id, ErrNotFound)
	}
	switch field {
	case "stop_loss":
		if len(values) != 1 {
			return fmt.Errorf("track: stop_loss takes exactly one value, got %d", len(values))
		}
		sig.Stop = values[0]
	case "take_profits":
		if len(values) == 0 {
			return errors.New("track: take_profits needs at least one value")
		}
		sig.TakeProfits = values
		sig.SortTargets()
	case "entry_prices":
		sig.Entries = values
	default:
		return fmt.Errorf("track: unknown field %s", field)
	}
	t.view.PutSignal(snapshot(id, sig, decimal.Decimal{}, nil, price.Quote{Exchange: "Unknown"}))
	t.log.WithField("id", id).WithField("field", field).Info("signal edited")
	return nil
}

// Remove abandons an active signal: its monitor stops and no history
// record is written.
func (t *Tracker) Remove(id string) error {
	t.mu.Lock()
	_, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("couldn't remove %s: %w", id, ErrNotFound)
	}
	delete(t.active, id)
	cancel := t.cancels[id]
	delete(t.cancels, id)
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.view.DropSignal(id)
	t.log.WithField("id", id).Info("signal removed")
	return nil
}

// Active returns a copy of the tracked signals keyed by id.
func (t *Tracker) Active() map[string]*signal.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*signal.Signal, len(t.active))
	for id, sig := range t.active {
		out[id] = sig.Clone()
	}
	return out
}

// Len returns the number of tracked signals.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// peek returns a read-only copy of an active signal.
func (t *Tracker) peek(id string) (*signal.Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sig, ok := t.active[id]
	if !ok {
		return nil, false
	}
	return sig.Clone(), true
}

// fillEntry backfills a market entry from the first observed price and
// returns the refreshed snapshot, nil when the signal is gone.
func (t *Tracker) fillEntry(id string, p decimal.Decimal) *signal.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	sig, ok := t.active[id]
	if !ok {
		return nil
	}
	if len(sig.Entries) == 0 {
		sig.Entries = []decimal.Decimal{p}
		sig.Filled = true
	}
	return sig.Clone()
}

// takePartial pops the fragment a targets-only message should complete:
// the fragment for its own symbol when the message names one, the
// newest within the merge window otherwise.
func (t *Tracker) takePartial(symbol string) (*signal.Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if symbol != signal.UnknownSymbol {
		p, ok := t.partials[symbol]
		if !ok || time.Since(p.time) > t.cfg.MergeTTL {
			return nil, false
		}
		delete(t.partials, symbol)
		return p.sig, true
	}
	var newestKey string
	var newest partial
	for key, p := range t.partials {
		if time.Since(p.time) > t.cfg.MergeTTL {
			continue
		}
		if newestKey == "" || p.time.After(newest.time) {
			newestKey, newest = key, p
		}
	}
	if newestKey == "" {
		return nil, false
	}
	delete(t.partials, newestKey)
	return newest.sig, true
}

// sweepPartials drops fragments older than the merge window. Invoked
// opportunistically before each submit rather than on a timer.
func (t *Tracker) sweepPartials() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, p := range t.partials {
		if time.Since(p.time) > t.cfg.MergeTTL {
			delete(t.partials, sym)
			t.log.WithField("symbol", sym).Debug("partial signal expired")
		}
	}
}

// mergeFragments combines an entry fragment with its targets message.
// Entry, direction, source and creation time come from the first
// message; targets and stop from the second; leverage and margin from
// whichever defines them, preferring the first.
func mergeFragments(first, second *signal.Signal) *signal.Signal {
	merged := first.Clone()
	merged.TakeProfits = append([]decimal.Decimal(nil), second.TakeProfits...)
	merged.Stop = second.Stop
	if merged.Leverage == 0 {
		merged.Leverage = second.Leverage
	}
	if merged.Margin.IsZero() {
		merged.Margin = second.Margin
	}
	merged.Market = false
	merged.Text = first.Text + "\n" + second.Text
	merged.FilterTargets(decimal.Decimal{})
	return merged
}

// snapshot builds the read-model view of a signal. The signal must be
// a clone or be held under the tracker lock.
func snapshot(id string, sig *signal.Signal, pnl decimal.Decimal, reached []int, q price.Quote) state.SignalView {
	return state.SignalView{
		ID:           id,
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		Entries:      append([]decimal.Decimal(nil), sig.Entries...),
		Limits:       append([]decimal.Decimal(nil), sig.Limits...),
		TakeProfits:  append([]decimal.Decimal(nil), sig.TakeProfits...),
		Stop:         sig.Stop,
		Leverage:     sig.Leverage,
		Margin:       sig.Margin,
		Source:       sig.Source,
		PnLPercent:   pnl,
		ReachedTPs:   reached,
		Exchange:     q.Exchange,
		Time:         sig.Time,
		CurrentPrice: q.Price,
	}
}
