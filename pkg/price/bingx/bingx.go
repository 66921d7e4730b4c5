package bingx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultBase = "https://open-api.bingx.com/openApi"

var zero = decimal.Decimal{}

// Source serves perpetual swap prices from the BingX public quote API.
type Source struct {
	client *http.Client
	base   string
}

func New() *Source {
	return &Source{
		client: &http.Client{Timeout: 10 * time.Second},
		base:   defaultBase,
	}
}

// NewWithBase points the source at a different API root, used by tests.
func NewWithBase(base string) *Source {
	s := New()
	s.base = base
	return s
}

func (s *Source) Name() string {
	return "BingX"
}

type priceResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type priceData struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (s *Source) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := normalize(symbol)
	u := fmt.Sprintf("%s/swap/v2/quote/price?symbol=%s", s.base, url.QueryEscape(sym))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, fmt.Errorf("bingx: couldn't create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("bingx: couldn't get price for %s: %w", sym, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("bingx: unexpected status %d for %s", resp.StatusCode, sym)
	}
	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return zero, fmt.Errorf("bingx: couldn't decode response for %s: %w", sym, err)
	}
	if pr.Code != 0 {
		return zero, fmt.Errorf("bingx: error %d for %s: %s", pr.Code, sym, pr.Msg)
	}
	raw, err := firstPrice(pr.Data)
	if err != nil {
		return zero, fmt.Errorf("bingx: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return zero, fmt.Errorf("bingx: couldn't parse price %s: %w", raw, err)
	}
	return price, nil
}

// firstPrice handles both payload shapes the quote endpoint returns: a
// single object or a one-element array.
func firstPrice(data json.RawMessage) (string, error) {
	var one priceData
	if err := json.Unmarshal(data, &one); err == nil && one.Price != "" {
		return one.Price, nil
	}
	var many []priceData
	if err := json.Unmarshal(data, &many); err == nil && len(many) > 0 && many[0].Price != "" {
		return many[0].Price, nil
	}
	return "", fmt.Errorf("empty price payload")
}

var quoteAssets = []string{"USDT", "BUSD", "BTC", "ETH", "USD"}

// normalize converts a canonical symbol to BingX's dashed BASE-QUOTE
// form.
func normalize(symbol string) string {
	sym := strings.ToUpper(symbol)
	sym = strings.ReplaceAll(sym, "/", "")
	sym = strings.ReplaceAll(sym, "-", "")
	for _, quote := range quoteAssets {
		if strings.HasSuffix(sym, quote) && len(sym) > len(quote) {
			return fmt.Sprintf("%s-%s", strings.TrimSuffix(sym, quote), quote)
		}
	}
	return fmt.Sprintf("%s-USDT", sym)
}
