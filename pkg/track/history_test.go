package track

import (
	"testing"

	"github.com/igolaizola/zelatari/pkg/signal"
)

func TestRecordPnL(t *testing.T) {
	for _, tt := range []struct {
		name   string
		record Record
		want   string
	}{
		{
			name: "long profit",
			record: Record{
				Direction:  signal.Long,
				Entries:    toDecimals("100"),
				ClosePrice: toDecimal("121"),
			},
			want: "21",
		},
		{
			name: "long loss",
			record: Record{
				Direction:  signal.Long,
				Entries:    toDecimals("100"),
				ClosePrice: toDecimal("89"),
			},
			want: "-11",
		},
		{
			name: "short profit",
			record: Record{
				Direction:  signal.Short,
				Entries:    toDecimals("100"),
				ClosePrice: toDecimal("79"),
			},
			want: "21",
		},
		{
			name: "no entry",
			record: Record{
				Direction:  signal.Long,
				ClosePrice: toDecimal("121"),
			},
			want: "0",
		},
		{
			name: "no close price",
			record: Record{
				Direction: signal.Long,
				Entries:   toDecimals("100"),
			},
			want: "0",
		},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.PnL(); !got.Equal(toDecimal(tt.want)) {
				t.Errorf("want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	recs := []*Record{
		{Source: "Alpha", Direction: signal.Long, Entries: toDecimals("100"), ClosePrice: toDecimal("110"), Leverage: 10},
		{Source: "Alpha", Direction: signal.Long, Entries: toDecimals("100"), ClosePrice: toDecimal("90"), Leverage: 20},
		{Source: "Beta", Direction: signal.Short, Entries: toDecimals("100"), ClosePrice: toDecimal("80")},
		{Direction: signal.Long, Entries: toDecimals("100"), ClosePrice: toDecimal("105")},
	}

	stats := Summarize(recs)
	if len(stats) != 3 {
		t.Fatalf("want 3 sources, got %d", len(stats))
	}

	alpha := stats["Alpha"]
	if alpha == nil {
		t.Fatal("missing Alpha stats")
	}
	if alpha.Trades != 2 || alpha.Wins != 1 {
		t.Errorf("wrong Alpha counts: %d trades, %d wins", alpha.Trades, alpha.Wins)
	}
	if !alpha.TotalPnL.Equal(toDecimal("0")) {
		t.Errorf("wrong Alpha pnl: %s", alpha.TotalPnL)
	}
	if alpha.AvgLeverage != 15 {
		t.Errorf("wrong Alpha leverage: %f", alpha.AvgLeverage)
	}
	if alpha.WinRate != 50 {
		t.Errorf("wrong Alpha win rate: %f", alpha.WinRate)
	}

	beta := stats["Beta"]
	if beta == nil {
		t.Fatal("missing Beta stats")
	}
	if beta.Trades != 1 || beta.Wins != 1 || beta.WinRate != 100 {
		t.Errorf("wrong Beta stats: %+v", beta)
	}

	if _, ok := stats["Unknown"]; !ok {
		t.Error("sourceless records must group under Unknown")
	}
}
