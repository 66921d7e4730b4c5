package track

import (
	"time"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/shopspring/decimal"
)

// Reason is why a signal stopped being tracked.
type Reason string

const (
	// ReasonAllTargets means every take profit was crossed.
	ReasonAllTargets Reason = "all_take_profits"
	// ReasonStopLoss means the stop level was crossed.
	ReasonStopLoss Reason = "stop_loss"
	// ReasonSymbolNotFound means no exchange served a price for the
	// symbol several polls in a row.
	ReasonSymbolNotFound Reason = "symbol_not_found"
)

// Record is the terminal history entry for one tracked signal.
type Record struct {
	ID              string            `json:"signal_id"`
	Symbol          string            `json:"symbol"`
	Direction       signal.Direction  `json:"direction"`
	Entries         []decimal.Decimal `json:"entry_prices"`
	TakeProfits     []decimal.Decimal `json:"take_profits"`
	Stop            decimal.Decimal   `json:"stop_loss"`
	Leverage        int               `json:"leverage"`
	Margin          decimal.Decimal   `json:"margin"`
	Source          string            `json:"source"`
	Time            time.Time         `json:"timestamp"`
	CloseReason     Reason            `json:"close_reason"`
	ClosePrice      decimal.Decimal   `json:"close_price"`
	CloseTime       time.Time         `json:"close_time"`
	DurationMinutes float64           `json:"duration_minutes"`
}

func newRecord(id string, sig *signal.Signal, reason Reason, closePrice decimal.Decimal) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:              id,
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		Entries:         append([]decimal.Decimal(nil), sig.Entries...),
		TakeProfits:     append([]decimal.Decimal(nil), sig.TakeProfits...),
		Stop:            sig.Stop,
		Leverage:        sig.Leverage,
		Margin:          sig.Margin,
		Source:          sig.Source,
		Time:            sig.Time,
		CloseReason:     reason,
		ClosePrice:      closePrice,
		CloseTime:       now,
		DurationMinutes: now.Sub(sig.Time).Minutes(),
	}
}

// PnL returns the closed profit percentage of the record, zero when
// the entry or close price is unknown.
func (r *Record) PnL() decimal.Decimal {
	if len(r.Entries) == 0 || r.Entries[0].IsZero() || r.ClosePrice.IsZero() {
		return decimal.Decimal{}
	}
	entry := r.Entries[0]
	diff := r.ClosePrice.Sub(entry)
	if r.Direction == signal.Short {
		diff = entry.Sub(r.ClosePrice)
	}
	return diff.Div(entry).Mul(decimal.NewFromInt(100))
}

// Store is the append-only history sink. Records are listed in close
// time order.
type Store interface {
	Append(*Record) error
	List(from time.Time, to time.Time) ([]*Record, error)
	Prune(before time.Time) (int, error)
}

// SourceStats aggregates closed trades per signal source.
type SourceStats struct {
	Trades      int             `json:"total_trades"`
	Wins        int             `json:"profitable_trades"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	AvgLeverage float64         `json:"avg_leverage"`
	WinRate     float64         `json:"win_rate"`
}

// Summarize groups history records by source.
func Summarize(recs []*Record) map[string]*SourceStats {
	out := map[string]*SourceStats{}
	leverages := map[string]int{}
	for _, r := range recs {
		source := r.Source
		if source == "" {
			source = "Unknown"
		}
		s, ok := out[source]
		if !ok {
			s = &SourceStats{}
			out[source] = s
		}
		s.Trades++
		pnl := r.PnL()
		s.TotalPnL = s.TotalPnL.Add(pnl)
		if pnl.IsPositive() {
			s.Wins++
		}
		if r.Leverage > 0 {
			s.AvgLeverage += float64(r.Leverage)
			leverages[source]++
		}
	}
	for source, s := range out {
		if n := leverages[source]; n > 0 {
			s.AvgLeverage /= float64(n)
		}
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	return out
}
