package parse

import (
	"testing"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/shopspring/decimal"
)

func TestActionable(t *testing.T) {
	full := &signal.Signal{
		Symbol:      "BTCUSDT",
		Direction:   signal.Long,
		TakeProfits: []decimal.Decimal{toDecimal("66000")},
	}
	tests := []struct {
		name        string
		sig         *signal.Signal
		text        string
		preliminary bool
		want        bool
		reason      string
	}{
		{
			name: "labeled signal",
			sig:  full,
			text: "BTC LONG\nEntry: 65000\nTP1: 66000\nSL: 63000",
			want: true,
		},
		{
			name:        "preliminary flag overridden by concrete markers",
			sig:         full,
			text:        "BTC LONG\nВход: 65000\nТейк: 66000\nСтоп: 63000",
			preliminary: true,
			want:        true,
		},
		{
			name: "anticipation wording with concrete markers",
			sig:  full,
			text: "Скоро памп!\nВход: 65000.5\nЦели: 66000.5",
			want: true,
		},
		{
			name:        "preliminary announcement",
			sig:         full,
			text:        "BTC сигнал скоро 🚀",
			preliminary: true,
			want:        false,
			reason:      "preliminary announcement",
		},
		{
			name:   "anticipation without data",
			sig:    full,
			text:   "Готовьтесь! Следите за BTC",
			want:   false,
			reason: "preliminary announcement",
		},
		{
			name: "unknown symbol",
			sig: &signal.Signal{
				Symbol:      signal.UnknownSymbol,
				Direction:   signal.Long,
				TakeProfits: []decimal.Decimal{toDecimal("1.7")},
			},
			text:   "LONG\nEntry: 1.5\nTP1: 1.7\nSL: 1.4",
			want:   false,
			reason: "symbol not recognized",
		},
		{
			name: "no direction",
			sig: &signal.Signal{
				Symbol:      "BTCUSDT",
				TakeProfits: []decimal.Decimal{toDecimal("66000")},
			},
			text:   "BTC\nEntry: 65000\nTP1: 66000",
			want:   false,
			reason: "direction not recognized",
		},
		{
			name: "no take profits",
			sig: &signal.Signal{
				Symbol:    "BTCUSDT",
				Direction: signal.Long,
			},
			text:   "BTC LONG Entry: 65000 SL: 63000",
			want:   false,
			reason: "no take profits",
		},
		{
			name:   "lucky extraction from chatter",
			sig:    full,
			text:   "BTC is going to the moon, LONG it now",
			want:   false,
			reason: "no concrete data",
		},
	}
	p := New(decimal.Decimal{})
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, reason := p.Actionable(tt.sig, tt.text, tt.preliminary)
			if got != tt.want {
				t.Fatalf("want %t, got %t (%s)", tt.want, got, reason)
			}
			if reason != tt.reason {
				t.Errorf("reason: want %q, got %q", tt.reason, reason)
			}
		})
	}
}
