// Package normalizer provides string, amount and datetime cleanup primitives
// shared by every extraction strategy. All of them are forgiving: junk input
// yields a zero value, never an error.
package normalizer

import (
	"regexp"
	"strings"

	"time"

	"github.com/shopspring/decimal"
)

var (
	spaceRun = regexp.MustCompile(`\s+`)
	// characters stripped from amount strings before numeric parsing
	amountNoise = strings.NewReplacer(",", "", "¥", "", "￥", "", "$", "", "元", "", " ", "", " ", "")
)

// CleanCell trims a raw table cell, replaces embedded newlines with spaces
// and collapses whitespace runs.
func CleanCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// StripSpace removes all whitespace, including internal runs. Header tokens
// are matched against stripped cells so "交易 单号" still matches.
func StripSpace(s string) string {
	return spaceRun.ReplaceAllString(s, "")
}

// ParseAmount converts a platform amount cell to a decimal.
//
//	"¥1,234.56" -> 1234.56
//	"1234"      -> 1234
//	"--" / ""   -> 0
//
// Parenthesized and minus-prefixed values stay negative so callers can detect
// expense rows before taking the absolute value.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" || s == "-" || s == "/" {
		return decimal.Zero
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	}
	if strings.HasPrefix(s, "+") {
		s = strings.TrimPrefix(s, "+")
	}

	s = amountNoise.Replace(s)
	if s == "" {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		d = d.Neg()
	}
	return d
}

// timeLayouts are tried in order. Layouts with seconds come first so the
// longest match wins.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006.01.02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006.01.02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006年01月02日 15:04:05",
	"2006年1月2日 15:04:05",
	"2006年01月02日",
	"2006年1月2日",
}

// ParseFlexibleTime parses the datetime formats seen in WeChat and Alipay
// exports. An unparseable string reports ok=false - never an error or panic.
func ParseFlexibleTime(s string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
