package zelatari

import (
	"testing"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/shopspring/decimal"
)

func TestParseManual(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		symbol   string
		dir      signal.Direction
		entry    string
		stop     string
		targets  []string
		leverage int
		margin   string
		source   string
	}{
		{
			name:     "full line",
			line:     "BTCUSDT LONG 65000 63000 66000,68000,67000 10x 5% Alpha",
			symbol:   "BTCUSDT",
			dir:      signal.Long,
			entry:    "65000",
			stop:     "63000",
			targets:  []string{"66000", "67000", "68000"},
			leverage: 10,
			margin:   "5",
			source:   "Alpha",
		},
		{
			name:    "minimal gets normalized",
			line:    "eth short 3500 3700 3300,3400",
			symbol:  "ETHUSDT",
			dir:     signal.Short,
			entry:   "3500",
			stop:    "3700",
			targets: []string{"3400", "3300"},
			source:  "Manual",
		},
		{
			name:    "sell alias and bare source",
			line:    "SOL SELL 150 160 145 VIP",
			symbol:  "SOLUSDT",
			dir:     signal.Short,
			entry:   "150",
			stop:    "160",
			targets: []string{"145"},
			source:  "VIP",
		},
		{
			name:    "no stop",
			line:    "PEPE LONG 0.000012 0 0.000013,0.000014",
			symbol:  "PEPEUSDT",
			dir:     signal.Long,
			entry:   "0.000012",
			stop:    "0",
			targets: []string{"0.000013", "0.000014"},
			source:  "Manual",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sig, err := parseManual(tt.line)
			if err != nil {
				t.Fatal(err)
			}
			if sig.Symbol != tt.symbol {
				t.Errorf("symbol: want %s, got %s", tt.symbol, sig.Symbol)
			}
			if sig.Direction != tt.dir {
				t.Errorf("direction: want %s, got %s", tt.dir, sig.Direction)
			}
			if len(sig.Entries) != 1 || !sig.Entries[0].Equal(mustDecimal(tt.entry)) {
				t.Errorf("entries: want [%s], got %v", tt.entry, sig.Entries)
			}
			if !sig.Stop.Equal(mustDecimal(tt.stop)) {
				t.Errorf("stop: want %s, got %s", tt.stop, sig.Stop)
			}
			if len(sig.TakeProfits) != len(tt.targets) {
				t.Fatalf("targets: want %v, got %v", tt.targets, sig.TakeProfits)
			}
			for i, want := range tt.targets {
				if !sig.TakeProfits[i].Equal(mustDecimal(want)) {
					t.Errorf("target %d: want %s, got %s", i, want, sig.TakeProfits[i])
				}
			}
			if sig.Leverage != tt.leverage {
				t.Errorf("leverage: want %d, got %d", tt.leverage, sig.Leverage)
			}
			if tt.margin != "" && !sig.Margin.Equal(mustDecimal(tt.margin)) {
				t.Errorf("margin: want %s, got %s", tt.margin, sig.Margin)
			}
			if tt.margin == "" && !sig.Margin.IsZero() {
				t.Errorf("margin: want zero, got %s", sig.Margin)
			}
			if sig.Source != tt.source {
				t.Errorf("source: want %s, got %s", tt.source, sig.Source)
			}
		})
	}
}

func TestParseManualErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "BTCUSDT LONG 65000 63000"},
		{"bad direction", "BTCUSDT SIDEWAYS 65000 63000 66000"},
		{"bad symbol", "---- LONG 65000 63000 66000"},
		{"zero entry", "BTCUSDT LONG 0 63000 66000"},
		{"negative stop", "BTCUSDT LONG 65000 -1 66000"},
		{"bad target", "BTCUSDT LONG 65000 63000 sixty"},
		{"empty targets", "BTCUSDT LONG 65000 63000 ,"},
		{"zero leverage", "BTCUSDT LONG 65000 63000 66000 0x"},
		{"bad margin", "BTCUSDT LONG 65000 63000 66000 0%"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseManual(tt.line); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}

func mustDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}
