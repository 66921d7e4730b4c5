package parse

import (
	"regexp"

	"github.com/igolaizola/zelatari/pkg/signal"
)

// concrete data markers: any one of these makes the text look like an
// executable instruction rather than commentary.
var (
	currencyNumRe = regexp.MustCompile(`\d+[.,]?\d*\s*\$`)
	labeledTPRe   = regexp.MustCompile(`(?i)[TТ][PП]\d*\s*:?\s*\d+[.,]?\d*`)
	tpslWordRe    = regexp.MustCompile(`(?i)тейк\s*[- ]?профит|стоп\s*[- ]?лосс|take\s*[- ]?profit|stop\s*[- ]?loss`)
	labeledInRe   = regexp.MustCompile(`(?i)(?:вход|entry)\s*:?\s*\d+[.,]?\d*`)
	decimalNumRe  = regexp.MustCompile(`\d+[.,]\d+`)
)

// anticipatory vocabulary: the channel is announcing a signal, not
// giving one.
var anticipationRe = regexp.MustCompile(`(?i)скоро|готовьтесь|приготовьтесь|ожидайте|следите|заходим скоро|coming soon|get ready|stay tuned|stand by`)

var (
	anyPriceRe = regexp.MustCompile(`\d+[.,]\d+`)
	entryLblRe = regexp.MustCompile(`(?i)вход|твх|точка входа|entry`)
	tpLblRe    = regexp.MustCompile(`(?i)тейк|цел[ьия]|профит|[TТ][PП]\d|take|target`)
	slLblRe    = regexp.MustCompile(`(?i)стоп|stop|sl\b`)
)

// Actionable decides whether a parsed signal is a genuine trade
// instruction. The raw text is re-checked for concrete data so that a
// lucky extraction from vague chatter doesn't pass. preliminary marks
// messages the inbound channel already flagged as announcements. The
// returned reason names the failed rule for the diagnostic log.
func (p *Parser) Actionable(sig *signal.Signal, text string, preliminary bool) (bool, string) {
	if preliminary || anticipationRe.MatchString(text) {
		if countTradeMarkers(text) < 2 {
			return false, "preliminary announcement"
		}
	}
	if sig.Symbol == signal.UnknownSymbol || sig.Symbol == "" {
		return false, "symbol not recognized"
	}
	if sig.Direction != signal.Long && sig.Direction != signal.Short {
		return false, "direction not recognized"
	}
	if len(sig.TakeProfits) == 0 {
		return false, "no take profits"
	}
	if !hasConcreteData(text) {
		return false, "no concrete data"
	}
	return true, ""
}

func hasConcreteData(text string) bool {
	if currencyNumRe.MatchString(text) ||
		labeledTPRe.MatchString(text) ||
		tpslWordRe.MatchString(text) ||
		labeledInRe.MatchString(text) {
		return true
	}
	// generic fallback: enough distinct numbers to carry an entry plus
	// targets or a stop
	seen := map[string]struct{}{}
	for _, n := range decimalNumRe.FindAllString(text, -1) {
		seen[n] = struct{}{}
	}
	return len(seen) >= 3
}

func countTradeMarkers(text string) int {
	var n int
	if anyPriceRe.MatchString(text) {
		n++
	}
	if entryLblRe.MatchString(text) {
		n++
	}
	if tpLblRe.MatchString(text) {
		n++
	}
	if slLblRe.MatchString(text) {
		n++
	}
	return n
}
