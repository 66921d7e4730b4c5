package parse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/igolaizola/zelatari/pkg/signal"
	"github.com/shopspring/decimal"
)

// numberSpan captures a run of numbers with their separators, starting
// right after a field label. Letters and newlines end the span.
const numberSpan = `([~$\d][\d.,~$ \t-]*)`

const quoteAlt = `(?:USDT|BUSD|BTC|ETH|BNB|EUR|USD)`

var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#([A-Za-z0-9]{2,12})`),
	regexp.MustCompile(`\$\s?([A-Za-z][A-Za-z0-9]{1,11})`),
	regexp.MustCompile(`(?i)\b([A-Za-z0-9]{2,12}\s?/\s?` + quoteAlt + `)\b`),
	regexp.MustCompile(`(?i)\b([A-Za-z0-9]{2,12}\s?-\s?` + quoteAlt + `)\b`),
	regexp.MustCompile(`(?i)\b([A-Za-z0-9]{2,10}USDT)\b`),
	regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9]{1,11})\s+(?:long|short|лонг|шорт)`),
	regexp.MustCompile(`(?i)(?:long|short|лонг|шорт)\s+([A-Za-z][A-Za-z0-9]{1,11})\b`),
	regexp.MustCompile(`🎤\s*([A-Za-z0-9/]{2,15})`),
}

var upperTokenRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}\b`)

// stopWords are candidates that look like symbols but are trading
// vocabulary, channel branding or field labels. Candidates are ASCII
// once cleaned, so the set is ASCII only.
var stopWords = map[string]struct{}{
	"PUMP": {}, "LONG": {}, "SHORT": {}, "SIGNAL": {}, "SIGNALS": {},
	"ENTRY": {}, "TARGET": {}, "TARGETS": {}, "TP": {}, "SL": {},
	"STOP": {}, "STOPLOSS": {}, "TAKE": {}, "TAKEPROFIT": {}, "PROFIT": {},
	"BUY": {}, "SELL": {}, "LIMIT": {}, "LIMITS": {}, "MARKET": {},
	"MARGIN": {}, "LEVERAGE": {}, "LOSS": {}, "PRIVATE": {}, "CLUB": {},
	"VIP": {}, "TG": {}, "USDT": {}, "BUSD": {}, "USD": {},
	"SYMBOL": {}, "DIRECTION": {},
}

var commonWords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "ARE": {}, "NOT": {}, "ALL": {},
	"BUT": {}, "FROM": {}, "WITH": {}, "THIS": {}, "THAT": {}, "WILL": {},
	"HAVE": {}, "YOUR": {}, "READY": {}, "SOON": {}, "TERM": {},
	"GET": {}, "NOW": {}, "NEW": {}, "YOU": {}, "OUR": {}, "TOP": {},
	"USE": {}, "CAN": {}, "GO": {}, "WE": {}, "ON": {}, "IN": {},
	"AT": {}, "IS": {}, "BE": {}, "TO": {}, "DO": {}, "UP": {},
	"NO": {}, "SO": {}, "MY": {},
}

func extractSymbol(text, source string) string {
	for _, re := range symbolPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if sym, ok := cleanCandidate(m[1]); ok {
				return sym
			}
		}
	}
	// Bare upper-case token in the leading lines
	lines := strings.Split(text, "\n")
	if len(lines) > 3 {
		lines = lines[:3]
	}
	for _, line := range lines {
		for _, tok := range upperTokenRe.FindAllString(strings.ToUpper(line), -1) {
			if sym, ok := cleanCandidate(tok); ok {
				return sym
			}
		}
	}
	// Some channels only name the pair in their own label
	for _, re := range symbolPatterns[2:5] {
		if m := re.FindStringSubmatch(source); m != nil {
			if sym, ok := cleanCandidate(m[1]); ok {
				return sym
			}
		}
	}
	return signal.UnknownSymbol
}

func cleanCandidate(raw string) (string, bool) {
	c := signal.Clean(raw)
	if len(c) < 2 {
		return "", false
	}
	if strings.Trim(c, "0123456789") == "" {
		return "", false
	}
	if _, ok := stopWords[c]; ok {
		return "", false
	}
	if _, ok := commonWords[c]; ok {
		return "", false
	}
	return signal.Normalize(c), true
}

var (
	buyRe  = regexp.MustCompile(`(?i)(?:^|[^a-zа-яё])(?:купить|покупка|buy)(?:[^a-zа-яё]|$)`)
	sellRe = regexp.MustCompile(`(?i)(?:^|[^a-zа-яё])(?:продать|продажа|sell)(?:[^a-zа-яё]|$)`)
)

func extractDirection(text string) signal.Direction {
	up := strings.ToUpper(text)
	switch {
	case strings.Contains(up, "SHORT"), strings.Contains(up, "ШОРТ"),
		strings.Contains(text, "🔽"), strings.Contains(text, "📉"):
		return signal.Short
	case strings.Contains(up, "LONG"), strings.Contains(up, "ЛОНГ"),
		strings.Contains(text, "🔼"), strings.Contains(text, "📈"):
		return signal.Long
	}
	if sellRe.MatchString(text) {
		return signal.Short
	}
	if buyRe.MatchString(text) {
		return signal.Long
	}
	return signal.Unknown
}

var entryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)точка\s+входа[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)цена\s+входа[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)входим\s+на[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])твх[-:.\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)\bentry(?:\s+point|\s+zone)?[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])вход[а-яё]*[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])вх[:.][\s~]*` + numberSpan),
	regexp.MustCompile(`~\s*` + numberSpan + `\s*\$`),
}

var limitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)лимитн[а-яё]*\s+ордер[а-яё]*(?:\s+на)?[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)лимитка[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])лимит[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)\blimit(?:\s+order)?[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)при\s+стоимости\s+монеты\s+в[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)усреднение[-:\s~]*` + numberSpan),
	regexp.MustCompile(`(?i)\baveraging[-:\s~]*` + numberSpan),
}

var (
	decimalCommaRe = regexp.MustCompile(`(\d),(\d)`)
	priceSplitRe   = regexp.MustCompile(`[\s/|—–-]+`)
	rangeRe        = regexp.MustCompile(`\d[\d.,]*\s*[—–-]\s*[\d.,]*\d`)

	// values at or below this are stray percentage fragments, not prices
	entryEpsilon = decimal.NewFromFloat(0.001)
)

// findSpans returns the captured spans of every match, dropping captures
// directly followed by a percent sign: those are percentages, not prices.
func findSpans(re *regexp.Regexp, text string) []string {
	var out []string
	for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
		if len(idx) < 4 || idx[2] < 0 {
			continue
		}
		end := idx[3]
		span := text[idx[2]:end]
		if end < len(text) && text[end] == '%' {
			continue
		}
		out = append(out, span)
	}
	return out
}

// parsePriceSpan extracts positive numbers from a span, fixing decimal
// commas first. Malformed tokens are skipped, never fatal.
func parsePriceSpan(span string, eps decimal.Decimal) []decimal.Decimal {
	span = strings.Trim(span, " \t~$-.,")
	span = decimalCommaRe.ReplaceAllString(span, "$1.$2")
	var out []decimal.Decimal
	for _, tok := range priceSplitRe.Split(span, -1) {
		tok = strings.Trim(tok, "~$,.")
		if tok == "" {
			continue
		}
		d, err := decimal.NewFromString(tok)
		if err != nil {
			continue
		}
		if d.LessThanOrEqual(eps) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func parseDecimal(tok string) (decimal.Decimal, bool) {
	tok = strings.Trim(tok, " \t~$")
	tok = strings.Replace(tok, ",", ".", 1)
	d, err := decimal.NewFromString(tok)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

func extractEntries(text string, dir signal.Direction) []decimal.Decimal {
	var out []decimal.Decimal
	seen := map[string]struct{}{}
	for _, re := range entryPatterns {
		for _, span := range findSpans(re, text) {
			vals := parsePriceSpan(span, entryEpsilon)
			if len(vals) == 2 && rangeRe.MatchString(span) {
				orientRange(vals, dir)
			}
			for _, v := range vals {
				k := v.String()
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}

// orientRange orders the two bounds of an entry range so the first one
// is the side the market approaches from: ascending for longs,
// descending for shorts.
func orientRange(vals []decimal.Decimal, dir signal.Direction) {
	asc := vals[0].LessThan(vals[1])
	if dir == signal.Short && asc {
		vals[0], vals[1] = vals[1], vals[0]
	}
	if dir != signal.Short && !asc {
		vals[0], vals[1] = vals[1], vals[0]
	}
}

func extractLimits(text string) []decimal.Decimal {
	var out []decimal.Decimal
	seen := map[string]struct{}{}
	for _, re := range limitPatterns {
		for _, span := range findSpans(re, text) {
			for _, v := range parsePriceSpan(span, entryEpsilon) {
				k := v.String()
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

var stopPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:стоп[\s-]?лосс?|stop[\s-]?loss)[-:\s~]*([$~]?\d[\d.,]*)`),
	regexp.MustCompile(`(?:🚫|❌|⛔)[^\d\n]{0,16}(\d[\d.,]*)`),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])(?:стоп|stop)[-:\s~]*([$~]?\d[\d.,]*)`),
}

func extractStop(text string) decimal.Decimal {
	for _, re := range stopPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if vals := parsePriceSpan(m[1], decimal.Decimal{}); len(vals) > 0 {
			return vals[0]
		}
	}
	return decimal.Decimal{}
}

var leveragePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,3})\s*[—–-]\s*(\d{1,3})\s*[xх]`),
	regexp.MustCompile(`(?i)(?:плечо|леверидж|leverage)[-:\s]*[xх]?(\d{1,3})\s*(?:[—–-]\s*(\d{1,3}))?`),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])[xх](\d{1,3})(?:$|[^\d.])`),
	regexp.MustCompile(`(?i)(\d{1,3})\s*[xх](?:$|[^0-9a-zа-яё])`),
}

func extractLeverage(text string) int {
	for _, re := range leveragePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		lo, err := strconv.Atoi(m[1])
		if err != nil || lo <= 0 {
			continue
		}
		if len(m) > 2 && m[2] != "" {
			if hi, err := strconv.Atoi(m[2]); err == nil && hi > 0 {
				return (lo + hi) / 2
			}
		}
		return lo
	}
	return 0
}

var marginPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*%\s*(?:от\s+депо(?:зита)?|of\s+(?:the\s+)?deposit)`),
	regexp.MustCompile(`(?i)(?:маржа|маржой|margin)[-:\s]*(\d+(?:[.,]\d+)?)\s*%?`),
	regexp.MustCompile(`(?i)(?:захожу|заходим|вхожу|входим)\s+на\s+(\d+(?:[.,]\d+)?)\s*%`),
	regexp.MustCompile(`(?i)(?:^|[\s:•(])на\s+(\d+(?:[.,]\d+)?)\s*%`),
}

func extractMargin(text string) decimal.Decimal {
	for _, re := range marginPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if d, ok := parseDecimal(m[1]); ok {
			return d
		}
	}
	return decimal.Decimal{}
}

var marketRe = regexp.MustCompile(`(?i)(?:^|[^a-zа-яё0-9])(?:по\s+рынку|рынок|рынк[а-яё]+|маркет|market)(?:[^a-zа-яё]|$)`)

var tpStartPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)по\s+целям[\s:—~-]*`),
	regexp.MustCompile(`(?i)тейк[\s-]?профит[а-яё]*[\s:—~-]*`),
	regexp.MustCompile(`(?i)take[\s-]?profits?[\s:—~-]*`),
	regexp.MustCompile(`(?i)тейк[а-яё]*[\s:—~-]*`),
	regexp.MustCompile(`(?i)точки\s+фиксации[\s:—~-]*`),
	regexp.MustCompile(`(?i)фиксаци[а-яё]*[\s:—~-]*`),
	regexp.MustCompile(`(?i)цел[а-яё]+[\s:—~-]*`),
	regexp.MustCompile(`(?i)\btargets?[\s:—~-]*`),
	regexp.MustCompile(`(?i)(?:^|[^a-zа-яё0-9])[tт][pп]\d?[\s:—~-]*`),
	regexp.MustCompile(`(?i)\bgoals?[\s:—~-]*`),
	regexp.MustCompile(`(?i)\btake[\s:—~-]+`),
	regexp.MustCompile(`(?i)профит[а-яё]*[\s:—~-]*`),
	regexp.MustCompile(`(?i)\bprofits?[\s:—~-]*`),
	regexp.MustCompile(`🎯[\s:—~-]*`),
	regexp.MustCompile(`👑[\s:—~-]*`),
	regexp.MustCompile(`✅[\s:—~-]*`),
}

var tpEndPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)стоп`),
	regexp.MustCompile(`(?i)\bstop`),
	regexp.MustCompile(`(?i)вход`),
	regexp.MustCompile(`(?i)\bentry`),
	regexp.MustCompile(`(?i)твх`),
	regexp.MustCompile(`(?i)марж[а-яё]*`),
	regexp.MustCompile(`(?i)\bmargin`),
	regexp.MustCompile(`(?i)плечо`),
	regexp.MustCompile(`(?i)леверидж`),
	regexp.MustCompile(`(?i)\bleverage`),
	regexp.MustCompile(`(?i)риск`),
	regexp.MustCompile(`(?i)\brisk`),
	regexp.MustCompile(`📊`),
	regexp.MustCompile(`🚫`),
	regexp.MustCompile(`❌`),
	regexp.MustCompile(`⛔`),
	regexp.MustCompile(`\n`),
	regexp.MustCompile(`•`),
	regexp.MustCompile(`📈`),
	regexp.MustCompile(`ℹ️`),
	regexp.MustCompile(`➡️`),
}

// findTargetBlock locates the start of the take-profit values. Keyword
// precedence follows the pattern list order, not text position.
func findTargetBlock(text string) (int, bool) {
	for _, re := range tpStartPatterns {
		if loc := re.FindStringIndex(text); loc != nil {
			return loc[1], true
		}
	}
	return 0, false
}

func endTargetBlock(text string, start int) int {
	end := len(text)
	for _, re := range tpEndPatterns {
		if loc := re.FindStringIndex(text[start:]); loc != nil && start+loc[0] < end {
			end = start + loc[0]
		}
	}
	return end
}

func extractTargets(text string) []decimal.Decimal {
	start, ok := findTargetBlock(text)
	if !ok {
		return nil
	}
	targets := parseTargetSpan(text[start:endTargetBlock(text, start)])
	if len(targets) == 0 {
		targets = parseTargetColumn(text, start)
	}
	return targets
}

var (
	targetCleanRe = regexp.MustCompile(`[^0-9.,\-—–/| \t]`)
	targetTokenRe = regexp.MustCompile(`^\d+\.?\d*$`)
)

func parseTargetSpan(span string) []decimal.Decimal {
	span = targetCleanRe.ReplaceAllString(span, " ")
	span = decimalCommaRe.ReplaceAllString(span, "$1.$2")
	span = strings.TrimSpace(span)
	if span == "" {
		return nil
	}
	var out []decimal.Decimal
	// commas left after decimal normalization separate values
	if strings.Contains(span, ",") {
		for _, part := range strings.Split(span, ",") {
			out = append(out, parsePriceSpan(part, decimal.Decimal{})...)
		}
		return out
	}
	for _, tok := range priceSplitRe.Split(span, -1) {
		tok = strings.Trim(tok, ".,")
		if tok == "" || !targetTokenRe.MatchString(tok) {
			continue
		}
		d, err := decimal.NewFromString(tok)
		if err != nil || !d.IsPositive() {
			continue
		}
		out = append(out, d)
	}
	return out
}

var (
	columnLineRe = regexp.MustCompile(`^[\s~$•✅🎯🔹▪️*>=\d.,)(\-—–/|]+$`)
	enumPrefixRe = regexp.MustCompile(`^\s*\d{1,2}[.)]\s+`)
)

// parseTargetColumn handles labels whose values sit on the following
// lines, one level per line, optionally enumerated.
func parseTargetColumn(text string, start int) []decimal.Decimal {
	lines := strings.Split(text[start:], "\n")
	if len(lines) < 2 {
		return nil
	}
	lines = lines[1:]
	var out []decimal.Decimal
	var began bool
	for i, line := range lines {
		if i >= 8 {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if began {
				break
			}
			continue
		}
		if !strings.ContainsAny(trimmed, "0123456789") || !columnLineRe.MatchString(trimmed) {
			break
		}
		began = true
		cleaned := enumPrefixRe.ReplaceAllString(trimmed, "")
		out = append(out, parsePriceSpan(cleaned, decimal.Decimal{})...)
	}
	return out
}
