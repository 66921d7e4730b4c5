package parse

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// formats are the known channel families, tried in order; the first
// match wins. Detection prefers text markers and falls back to the
// caller-supplied source label.
var formats = []format{
	{
		name:    "targetsline",
		match:   matchTargetsLine,
		extract: extractTargetsLine,
	},
	{
		name:    "targetcolumn",
		match:   matchTargetColumn,
		extract: extractTargetColumn,
	},
	{
		name:    "tickedtargets",
		match:   matchTickedTargets,
		extract: extractTickedTargets,
	},
	{
		name:    "marketandlimit",
		match:   matchMarketAndLimit,
		extract: extractMarketAndLimit,
	},
}

// targetsline: a range entry on one line and a comma-separated target
// list after a dedicated label ("Твх: 5.40-5.34 ... По целям: 5.307,
// 5.255, ... Стоп: 5.55").
var (
	tlEntryRe   = regexp.MustCompile(`(?i)Твх:\s*([\d.,\s-]+)`)
	tlTargetsRe = regexp.MustCompile(`(?is)По целям:\s*(.+?)(?:Стоп:|$)`)
	tlStopRe    = regexp.MustCompile(`(?i)Стоп:\s*(\d[\d.,]*)`)
)

func matchTargetsLine(text, source string) bool {
	if strings.Contains(source, "Nesterov") || strings.Contains(source, "Family") {
		return true
	}
	return tlEntryRe.MatchString(text) && tlTargetsRe.MatchString(text)
}

func extractTargetsLine(text string) fields {
	var f fields
	if m := tlEntryRe.FindStringSubmatch(text); m != nil {
		// keep the bounds in text order: the channel writes the
		// approach side first
		span := strings.TrimSpace(m[1])
		for _, part := range strings.Split(span, "-") {
			if d, ok := parseDecimal(part); ok {
				f.entries = append(f.entries, d)
			}
		}
	}
	if m := tlTargetsRe.FindStringSubmatch(text); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			if d, ok := parseDecimal(strings.TrimSpace(part)); ok {
				f.targets = append(f.targets, d)
			}
		}
	}
	if m := tlStopRe.FindStringSubmatch(text); m != nil {
		if d, ok := parseDecimal(m[1]); ok {
			f.stop = d
		}
	}
	return f
}

// targetcolumn: a labeled entry point with the targets in a vertical
// column on the following lines.
var (
	tcEntryRe = regexp.MustCompile(`(?i)Точка входа:\s*~?\s*(\d[\d.,]*)`)
	tcLabelRe = regexp.MustCompile(`(?i)^\s*цели`)
	tcValueRe = regexp.MustCompile(`(\d[\d.,]*)`)
	tcBreak   = []string{"закрытое", "стоп", "вход", "плечо", "маржа", "stop", "entry"}
)

func matchTargetColumn(text, source string) bool {
	low := strings.ToLower(source)
	if strings.Contains(low, "прайват") || strings.Contains(low, "private club") {
		return true
	}
	return tcEntryRe.MatchString(text) && hasColumnLabel(text)
}

func hasColumnLabel(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if tcLabelRe.MatchString(line) {
			return true
		}
	}
	return false
}

func extractTargetColumn(text string) fields {
	var f fields
	if m := tcEntryRe.FindStringSubmatch(text); m != nil {
		if d, ok := parseDecimal(m[1]); ok {
			f.entries = []decimal.Decimal{d}
		}
	}
	var inColumn bool
	for _, line := range strings.Split(text, "\n") {
		low := strings.ToLower(line)
		if tcLabelRe.MatchString(line) {
			inColumn = true
			continue
		}
		if !inColumn {
			continue
		}
		if breaksColumn(low) {
			break
		}
		if m := tcValueRe.FindStringSubmatch(line); m != nil {
			if d, ok := parseDecimal(m[1]); ok {
				f.targets = append(f.targets, d)
			}
		}
	}
	return f
}

func breaksColumn(line string) bool {
	for _, kw := range tcBreak {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// tickedtargets: targets inline after a check-marked label
// ("✅Тейки: 0.48 — 0.52 — 0.57").
var ttTargetsRe = regexp.MustCompile(`(?i)✅\s*Тейки:\s*([\d.,\s—–-]+)`)

func matchTickedTargets(text, source string) bool {
	if strings.Contains(source, "Финансист") || strings.Contains(source, "Шеф") {
		return true
	}
	return ttTargetsRe.MatchString(text)
}

func extractTickedTargets(text string) fields {
	var f fields
	m := ttTargetsRe.FindStringSubmatch(text)
	if m == nil {
		return f
	}
	f.targets = parsePriceSpan(m[1], decimal.Decimal{})
	return f
}

// marketandlimit: an immediate market entry plus one limit order at a
// stated price ("Вход: Рынок и лимитка - 0.85").
var mlEntryRe = regexp.MustCompile(`(?i)Вход:\s*Рынок и лимитка\s*[-—–]\s*(\d[\d.,]*)`)

func matchMarketAndLimit(text, source string) bool {
	return mlEntryRe.MatchString(text)
}

func extractMarketAndLimit(text string) fields {
	var f fields
	m := mlEntryRe.FindStringSubmatch(text)
	if m == nil {
		return f
	}
	d, ok := parseDecimal(m[1])
	if !ok {
		return f
	}
	f.entries = []decimal.Decimal{d}
	f.limits = []decimal.Decimal{d}
	f.market = true
	return f
}
