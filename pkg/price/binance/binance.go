package binance

import (
	"context"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

var zero = decimal.Decimal{}

// Source serves spot prices from the Binance public market data API.
// No credentials are needed for the price endpoint.
type Source struct {
	client *binance.Client
}

func New() *Source {
	return &Source{client: binance.NewClient("", "")}
}

func (s *Source) Name() string {
	return "Binance"
}

func (s *Source) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := normalize(symbol)
	prices, err := s.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return zero, fmt.Errorf("binance: couldn't get price for %s: %w", sym, err)
	}
	for _, p := range prices {
		if p.Symbol != sym {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return zero, fmt.Errorf("binance: couldn't parse price: %s: %w", p.Price, err)
		}
		return price, nil
	}
	return zero, fmt.Errorf("binance: price for %s not found", sym)
}

// normalize converts a canonical symbol to Binance's concatenated
// BASEQUOTE form.
func normalize(symbol string) string {
	sym := strings.ToUpper(symbol)
	sym = strings.ReplaceAll(sym, "/", "")
	sym = strings.ReplaceAll(sym, "-", "")
	return sym
}
