package zelatari

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/igolaizola/zelatari/pkg/mtproto"
	"github.com/igolaizola/zelatari/pkg/price"
	"github.com/igolaizola/zelatari/pkg/price/binance"
	"github.com/igolaizola/zelatari/pkg/price/bingx"
	"github.com/igolaizola/zelatari/pkg/price/fake"
	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/igolaizola/zelatari/pkg/signal/parse"
	"github.com/igolaizola/zelatari/pkg/state"
	"github.com/igolaizola/zelatari/pkg/telegram"
	"github.com/igolaizola/zelatari/pkg/track"
	"github.com/igolaizola/zelatari/pkg/track/bolt"
	"github.com/igolaizola/zelatari/pkg/track/inmem"
	"github.com/igolaizola/zelatari/pkg/web"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var version = "v260825a"

// Version returns the build identifier shown in the startup banner.
func Version() string {
	return version
}

// Config wires the whole bot together.
type Config struct {
	DB       string
	Token    string
	ChatID   int64
	Channels map[int64]string
	Families map[string]string
	MTProto  mtproto.Config

	Providers     []string
	MaxSignals    int
	MergeTTL      time.Duration
	PollInterval  time.Duration
	MaxPriceFails int
	MinTPGap      float64
	HistoryDays   int

	WebAddr    string
	WebOrigins []string
	Dry        bool
}

type Bot struct {
	run         func(context.Context) error
	cancel      context.CancelFunc
	log         func(v ...interface{})
	tracker     *track.Tracker
	view        *state.Store
	store       track.Store
	closeStore  func()
	web         *web.Server
	listener    *mtproto.Listener
	historyDays int
	dry         bool

	lock     sync.Mutex
	sessions map[int64]time.Time
	codeC    chan string
}

// New builds the bot: the control chat, the parser with its per-source
// format bindings, the history store, the price provider and the
// tracker. The web server and the MTProto listener are optional and
// only built when configured.
func New(cfg Config, log *logrus.Logger) (*Bot, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tgbot, err := telegram.New(cfg.Token, cfg.ChatID, log.WithField("pkg", "telegram"))
	if err != nil {
		return nil, fmt.Errorf("zelatari: couldn't create telegram bot: %w", err)
	}
	notify := tgbot.Print

	parser := parse.New(decimal.NewFromFloat(cfg.MinTPGap))
	for source, family := range cfg.Families {
		if err := parser.Bind(source, family); err != nil {
			return nil, fmt.Errorf("zelatari: couldn't bind %s: %w", source, err)
		}
	}

	var store track.Store
	closeStore := func() {}
	if cfg.Dry {
		store = &inmem.Store{}
	} else {
		db, err := bolt.New(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("zelatari: couldn't create db: %w", err)
		}
		store = db
		closeStore = db.Close
	}

	var sources []price.Source
	if cfg.Dry {
		sources = append(sources, fake.New(1))
	} else {
		for _, name := range cfg.Providers {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "binance":
				sources = append(sources, binance.New())
			case "bingx":
				sources = append(sources, bingx.New())
			case "":
			default:
				return nil, fmt.Errorf("zelatari: unknown price provider %s", name)
			}
		}
		if len(sources) == 0 {
			sources = append(sources, binance.New(), bingx.New())
		}
	}
	provider := price.NewMulti(price.Config{}, log.WithField("pkg", "price"), sources...)

	view := state.New()
	tracker := track.New(track.Config{
		MaxSignals:    cfg.MaxSignals,
		MergeTTL:      cfg.MergeTTL,
		PollInterval:  cfg.PollInterval,
		MaxPriceFails: cfg.MaxPriceFails,
	}, parser, provider, store, view, log.WithField("pkg", "track"), notify)

	var server *web.Server
	if cfg.WebAddr != "" {
		server = web.New(web.Config{
			Addr:    cfg.WebAddr,
			Origins: cfg.WebOrigins,
		}, view, store, log.WithField("pkg", "web"))
	}

	b := &Bot{
		run:         tgbot.Run,
		log:         notify,
		tracker:     tracker,
		view:        view,
		store:       store,
		closeStore:  closeStore,
		web:         server,
		historyDays: cfg.HistoryDays,
		dry:         cfg.Dry,
		sessions:    make(map[int64]time.Time),
		codeC:       make(chan string, 1),
	}
	if cfg.MTProto.ID != 0 && cfg.MTProto.Hash != "" {
		b.listener = mtproto.New(cfg.MTProto, cfg.Channels, log.WithField("pkg", "mtproto"), b.loginCode)
	}

	tgbot.HandleCommand("active", func(_ int64, _ string) {
		b.printActive()
	})
	tgbot.HandleCommand("history", func(_ int64, payload string) {
		b.printHistory(payload)
	})
	tgbot.HandleCommand("stats", func(_ int64, _ string) {
		b.printStats()
	})
	tgbot.HandleCommand("add", func(sender int64, payload string) {
		b.add(sender, payload)
	})
	tgbot.HandleCommand("edit", func(_ int64, payload string) {
		b.edit(payload)
	})
	tgbot.HandleCommand("drop", func(_ int64, payload string) {
		b.drop(payload)
	})
	tgbot.HandleCommand("code", func(_ int64, payload string) {
		b.code(payload)
	})
	tgbot.HandleCommand("help", func(_ int64, _ string) {
		b.log(helpText)
	})
	tgbot.HandleCommand("shutdown", func(_ int64, _ string) {
		b.log("shutting down")
		b.shutdown()
	})
	tgbot.HandleText(b.control, cfg.Channels, b.submit)
	return b, nil
}

const helpText = `/active - live signals with PnL
/history [n] - recent closed signals
/add [signal] - track a manual signal
/edit <id> <field> <values> - adjust stop_loss, take_profits or entry_prices
/drop <id> - stop tracking without archiving
/stats - per-source results of the last 7 days
/code <value> - forward the telegram login code
/shutdown - stop the bot`

// Run blocks until the context is canceled or /shutdown is issued.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()
	defer b.closeStore()

	b.log(fmt.Sprintf("🤖 zelatari bot running\n- version: %s\n- dry mode: %t", version, b.dry))
	defer b.log("🛑 zelatari bot stopped")

	b.tracker.Start(ctx)

	var wg sync.WaitGroup
	if b.web != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.web.Run(ctx); err != nil {
				b.log(err)
			}
		}()
	}
	if b.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.listener.Listen(ctx, b.submit)
			if err != nil && !errors.Is(err, context.Canceled) {
				b.log(err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.maintain(ctx)
	}()

	err := b.run(ctx)
	cancel()
	b.tracker.Wait()
	wg.Wait()
	return err
}

// submit feeds one channel message into the tracker. Unrecognized
// messages stay silent: signal channels carry plenty of chatter.
func (b *Bot) submit(source, text string) {
	out, sig, err := b.tracker.Submit(text, source, false)
	if err != nil {
		if errors.Is(err, track.ErrFull) || errors.Is(err, track.ErrDuplicate) {
			b.log(fmt.Sprintf("⚠️ %s signal skipped: %v", source, err))
			return
		}
		b.log(err)
		return
	}
	switch out {
	case track.Admitted:
		b.log(admittedText(sig))
	case track.Pending:
		b.log(fmt.Sprintf("⏳ %s: %s entry noted, waiting for targets", source, sig.Symbol))
	}
}

func admittedText(sig *signal.Signal) string {
	stop := "none"
	if !sig.Stop.IsZero() {
		stop = sig.Stop.String()
	}
	return fmt.Sprintf("📡 %s: tracking `%s` %s, %d targets, stop %s",
		sig.Source, sig.ID(), sig.Direction, len(sig.TakeProfits), stop)
}

// control handles plain text in the control chat: the second step of a
// two-step /add.
func (b *Bot) control(sender int64, text string) {
	if strings.HasPrefix(text, "/") {
		return
	}
	b.lock.Lock()
	deadline, ok := b.sessions[sender]
	if ok {
		delete(b.sessions, sender)
	}
	b.lock.Unlock()
	if !ok {
		return
	}
	if time.Now().After(deadline) {
		b.log("⌛ add timed out, send /add again")
		return
	}
	b.manual(text)
}

// add starts a manual signal. With a payload the signal is parsed right
// away; without one the sender's next message is treated as the signal.
func (b *Bot) add(sender int64, payload string) {
	if strings.TrimSpace(payload) != "" {
		b.manual(payload)
		return
	}
	b.lock.Lock()
	b.sessions[sender] = time.Now().Add(2 * time.Minute)
	b.lock.Unlock()
	b.log("send the signal as `SYMBOL LONG|SHORT ENTRY STOP TP1,TP2,...` with optional `LEVx MARGIN% SOURCE`")
}

func (b *Bot) manual(line string) {
	sig, err := parseManual(line)
	if err != nil {
		b.log(err)
		return
	}
	if _, err := b.tracker.Add(sig); err != nil {
		b.log(err)
		return
	}
	b.log(admittedText(sig))
}

func (b *Bot) edit(payload string) {
	fields := strings.Fields(payload)
	if len(fields) < 3 {
		b.log("usage: /edit <id> <stop_loss|take_profits|entry_prices> <v1,v2,...>")
		return
	}
	id, field := fields[0], fields[1]
	var values []decimal.Decimal
	for _, tok := range strings.Split(strings.Join(fields[2:], ","), ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		d, err := decimal.NewFromString(tok)
		if err != nil || !d.IsPositive() {
			b.log(fmt.Sprintf("invalid value %q", tok))
			return
		}
		values = append(values, d)
	}
	if err := b.tracker.Edit(id, field, values); err != nil {
		b.log(err)
		return
	}
	b.log(fmt.Sprintf("✏️ `%s` %s updated", id, field))
}

func (b *Bot) drop(payload string) {
	id := strings.TrimSpace(payload)
	if id == "" {
		b.log("usage: /drop <id>")
		return
	}
	if err := b.tracker.Remove(id); err != nil {
		b.log(err)
		return
	}
	b.log(fmt.Sprintf("🗑 `%s` dropped, nothing archived", id))
}

func (b *Bot) code(payload string) {
	code := strings.TrimSpace(payload)
	if code == "" {
		b.log("usage: /code <value>")
		return
	}
	select {
	case b.codeC <- code:
		b.log("code forwarded")
	default:
		b.log("no login waiting for a code")
	}
}

// loginCode asks the control chat for the MTProto login code and waits
// for a /code reply.
func (b *Bot) loginCode(ctx context.Context) (string, error) {
	b.log("🔑 telegram login code needed, reply with /code <value>")
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case code := <-b.codeC:
		return code, nil
	}
}

func (b *Bot) printActive() {
	active := b.tracker.Active()
	if len(active) == 0 {
		b.log("no signals tracked")
		return
	}
	views := b.view.Signals()

	// Sort signals by start time
	var signals []*signal.Signal
	for _, s := range active {
		signals = append(signals, s)
	}
	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Time.Before(signals[j].Time)
	})

	sb := &strings.Builder{}
	for _, s := range signals {
		id := s.ID()
		pnl := decimal.Zero
		reached := 0
		if v, ok := views[id]; ok {
			pnl = v.PnLPercent
			reached = len(v.ReachedTPs)
		}
		emoji := "📈"
		if pnl.LessThan(decimal.Zero) {
			emoji = "📉"
		}
		fmt.Fprintf(sb, "%s `%s` %s %s%% %d/%d TPs %s %s\n",
			emoji, id, s.Direction, pnl.StringFixed(2), reached,
			len(s.TakeProfits), time.Since(s.Time).Round(time.Second), s.Source)
	}
	b.log(strings.TrimSuffix(sb.String(), "\n"))
}

func (b *Bot) printHistory(payload string) {
	n := 10
	if p := strings.TrimSpace(payload); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			b.log(fmt.Sprintf("invalid count %q", p))
			return
		}
		n = v
	}
	recs, err := b.store.List(time.Time{}, time.Now())
	if err != nil {
		b.log(fmt.Errorf("zelatari: couldn't read history: %w", err))
		return
	}
	if len(recs) == 0 {
		b.log("history is empty")
		return
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CloseTime.After(recs[j].CloseTime)
	})
	if len(recs) > n {
		recs = recs[:n]
	}
	sb := &strings.Builder{}
	for _, r := range recs {
		fmt.Fprintf(sb, "%s %s %s %s%% %s %s\n",
			reasonEmoji(r.CloseReason), r.Symbol, r.Direction,
			r.PnL().StringFixed(2),
			(time.Duration(r.DurationMinutes)*time.Minute).Round(time.Minute),
			r.Source)
	}
	b.log(strings.TrimSuffix(sb.String(), "\n"))
}

func (b *Bot) printStats() {
	now := time.Now()
	recs, err := b.store.List(now.Add(-7*24*time.Hour), now)
	if err != nil {
		b.log(fmt.Errorf("zelatari: couldn't read history: %w", err))
		return
	}
	if len(recs) == 0 {
		b.log("no closed signals in the last 7 days")
		return
	}
	stats := track.Summarize(recs)
	var names []string
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	sb := &strings.Builder{}
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(sb, "%s: %d trades, %.1f%% wins, %s%% total\n",
			name, s.Trades, s.WinRate, s.TotalPnL.StringFixed(2))
	}
	fmt.Fprintf(sb, "%d signals closed in the last 7 days", len(recs))
	b.log(sb.String())
}

func reasonEmoji(reason track.Reason) string {
	switch reason {
	case track.ReasonAllTargets:
		return "✅"
	case track.ReasonStopLoss:
		return "🛑"
	default:
		return "⚠️"
	}
}

// maintain sweeps stale dashboard snapshots and prunes history past the
// retention window once per hour.
func (b *Bot) maintain(ctx context.Context) {
	tick := time.NewTicker(time.Hour)
	defer tick.Stop()
	for {
		b.view.Sweep(time.Hour)
		if b.historyDays > 0 {
			before := time.Now().Add(-time.Duration(b.historyDays) * 24 * time.Hour)
			n, err := b.store.Prune(before)
			if err != nil {
				b.log(fmt.Errorf("zelatari: couldn't prune history: %w", err))
			} else if n > 0 {
				b.log(fmt.Sprintf("🧹 pruned %d archived signals older than %d days", n, b.historyDays))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (b *Bot) shutdown() {
	b.cancel()
}

var (
	leverageTokenRe = regexp.MustCompile(`^(\d{1,3})[xX]$`)
	marginTokenRe   = regexp.MustCompile(`^(\d+(?:\.\d+)?)%$`)
)

// parseManual reads the one-line manual signal format:
// SYMBOL LONG|SHORT ENTRY STOP TP1,TP2,... with optional trailing
// leverage (10x), margin (5%) and source label tokens.
func parseManual(line string) (*signal.Signal, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, errors.New("zelatari: manual signal needs SYMBOL DIRECTION ENTRY STOP TP1,TP2,...")
	}
	sig := &signal.Signal{
		Symbol: signal.Normalize(fields[0]),
		Source: "Manual",
		Time:   time.Now(),
		Text:   line,
	}
	if sig.Symbol == "" {
		return nil, fmt.Errorf("zelatari: invalid symbol %s", fields[0])
	}
	switch strings.ToUpper(fields[1]) {
	case "LONG", "BUY":
		sig.Direction = signal.Long
	case "SHORT", "SELL":
		sig.Direction = signal.Short
	default:
		return nil, fmt.Errorf("zelatari: unknown direction %s", fields[1])
	}
	entry, err := decimal.NewFromString(fields[2])
	if err != nil || !entry.IsPositive() {
		return nil, fmt.Errorf("zelatari: invalid entry %s", fields[2])
	}
	sig.Entries = []decimal.Decimal{entry}
	stop, err := decimal.NewFromString(fields[3])
	if err != nil || stop.IsNegative() {
		return nil, fmt.Errorf("zelatari: invalid stop %s", fields[3])
	}
	sig.Stop = stop
	for _, tok := range strings.Split(fields[4], ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		d, err := decimal.NewFromString(tok)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("zelatari: invalid target %s", tok)
		}
		sig.TakeProfits = append(sig.TakeProfits, d)
	}
	if len(sig.TakeProfits) == 0 {
		return nil, errors.New("zelatari: manual signal needs at least one target")
	}
	for _, tok := range fields[5:] {
		if m := leverageTokenRe.FindStringSubmatch(tok); m != nil {
			lev, err := strconv.Atoi(m[1])
			if err != nil || lev <= 0 {
				return nil, fmt.Errorf("zelatari: invalid leverage %s", tok)
			}
			sig.Leverage = lev
			continue
		}
		if m := marginTokenRe.FindStringSubmatch(tok); m != nil {
			margin, err := decimal.NewFromString(m[1])
			if err != nil || !margin.IsPositive() {
				return nil, fmt.Errorf("zelatari: invalid margin %s", tok)
			}
			sig.Margin = margin
			continue
		}
		sig.Source = tok
	}
	sig.SortTargets()
	return sig, nil
}
