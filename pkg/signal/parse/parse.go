// Package parse turns free-form channel messages into trade signals.
// Extraction is heuristic and never fails: fields that can't be read
// stay at their zero value and an unresolvable instrument becomes the
// UNKNOWN sentinel. A registry of per-channel format families refines
// the generic extraction for sources with a known message shape.
package parse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/shopspring/decimal"
)

// fields holds the values one format family extracted. Empty fields
// defer to the generic pass.
type fields struct {
	entries []decimal.Decimal
	limits  []decimal.Decimal
	targets []decimal.Decimal
	stop    decimal.Decimal
	market  bool
}

// format is one known message family: a detector plus a dedicated field
// extractor whose non-empty results take precedence over the generic
// pass.
type format struct {
	name    string
	match   func(text, source string) bool
	extract func(text string) fields
}

type Parser struct {
	minGap  decimal.Decimal
	formats []format
	bound   map[string]string
}

// New builds a parser. minGap is the minimum distance in percent
// between the entry price and a take profit for the target to count;
// zero selects the 0.5% default.
func New(minGap decimal.Decimal) *Parser {
	if minGap.IsZero() {
		minGap = decimal.NewFromFloat(0.5)
	}
	return &Parser{
		minGap:  minGap,
		formats: formats,
		bound:   map[string]string{},
	}
}

// Bind pins a source label to a format family, bypassing marker
// detection for its messages. Call it during setup, before Parse runs.
func (p *Parser) Bind(source, family string) error {
	for _, f := range p.formats {
		if f.name == family {
			p.bound[source] = family
			return nil
		}
	}
	return fmt.Errorf("parse: unknown format family %s", family)
}

// Parse extracts a signal from raw channel text. It never returns an
// error: callers check the UNKNOWN sentinels and run Actionable before
// trusting the result.
func (p *Parser) Parse(text, source string) *signal.Signal {
	sig := &signal.Signal{
		Symbol: signal.UnknownSymbol,
		Source: source,
		Time:   time.Now(),
		Text:   text,
	}
	if parseJSON(text, sig) {
		sig.FilterTargets(p.minGap)
		return sig
	}

	sig.Symbol = extractSymbol(text, source)
	sig.Direction = extractDirection(text)
	sig.Entries = extractEntries(text, sig.Direction)
	sig.Limits = extractLimits(text)
	sig.TakeProfits = extractTargets(text)
	sig.Stop = extractStop(text)
	sig.Leverage = extractLeverage(text)
	sig.Margin = extractMargin(text)

	if name, ok := p.bound[source]; ok {
		for _, f := range p.formats {
			if f.name == name {
				merge(sig, f.extract(text))
				break
			}
		}
	} else {
		for _, f := range p.formats {
			if !f.match(text, source) {
				continue
			}
			merge(sig, f.extract(text))
			break
		}
	}

	if marketRe.MatchString(text) {
		sig.Market = true
	}
	if len(sig.Entries) == 0 && len(sig.Limits) == 0 && len(sig.TakeProfits) > 0 {
		sig.Market = true
	}

	sig.FilterTargets(p.minGap)
	return sig
}

// merge lays a family's results over the generic extraction. Fields the
// family didn't produce keep their generic values.
func merge(sig *signal.Signal, f fields) {
	if len(f.entries) > 0 {
		sig.Entries = f.entries
	}
	if len(f.limits) > 0 {
		sig.Limits = f.limits
	}
	if len(f.targets) > 0 {
		sig.TakeProfits = f.targets
	}
	if !f.stop.IsZero() {
		sig.Stop = f.stop
	}
	if f.market {
		sig.Market = true
	}
}

// jsonSignal is the structured payload some relays emit instead of
// prose.
type jsonSignal struct {
	Symbol    string   `json:"symbol"`
	Direction string   `json:"direction"`
	Entries   []string `json:"entry"`
	Limits    []string `json:"limit"`
	Targets   []string `json:"targets"`
	Stop      string   `json:"stop"`
	Leverage  int      `json:"leverage"`
	Margin    string   `json:"margin"`
}

// parseJSON fills the signal from a structured payload and reports
// whether the text was one. Malformed numeric tokens are skipped, never
// fatal.
func parseJSON(text string, sig *signal.Signal) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var js jsonSignal
	if err := json.Unmarshal([]byte(trimmed), &js); err != nil {
		return false
	}
	if js.Symbol == "" {
		return false
	}
	sig.Symbol = signal.Normalize(js.Symbol)
	switch strings.ToUpper(js.Direction) {
	case "LONG", "BUY":
		sig.Direction = signal.Long
	case "SHORT", "SELL":
		sig.Direction = signal.Short
	default:
		sig.Direction = signal.Unknown
	}
	sig.Entries = parseDecimals(js.Entries)
	sig.Limits = parseDecimals(js.Limits)
	sig.TakeProfits = parseDecimals(js.Targets)
	if d, ok := parseDecimal(js.Stop); ok {
		sig.Stop = d
	}
	if js.Leverage > 0 {
		sig.Leverage = js.Leverage
	}
	if d, ok := parseDecimal(js.Margin); ok {
		sig.Margin = d
	}
	if len(sig.Entries) == 0 && len(sig.Limits) == 0 {
		sig.Market = true
	}
	return true
}

func parseDecimals(values []string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, v := range values {
		d, ok := parseDecimal(v)
		if !ok {
			continue
		}
		out = append(out, d)
	}
	return out
}
