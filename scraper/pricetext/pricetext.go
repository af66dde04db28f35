// Package pricetext turns human formatted price strings scraped from
// marketplace pages into decimal amounts and ISO currency codes.
package pricetext

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when the text holds no number.
var ErrNoPrice = errors.New("no price found")

var (
	// numberRegexp captures the first number including grouping separators
	numberRegexp = regexp.MustCompile(`\d{1,3}(?:[ \x{00a0}\x{202f}]\d{3})+(?:[.,]\d+)?|\d(?:[\d.,]*\d)?`)
	// isoRegexp captures an explicit currency code
	isoRegexp = regexp.MustCompile(`(?i)\b(USD|EUR|GBP|RUB|BRL|IDR|CNY)\b`)
)

// symbols are checked in order; multi-character symbols first so "R$" is not
// read as dollars.
var symbols = []struct {
	symbol   string
	currency string
}{
	{"R$", "BRL"},
	{"Rp", "IDR"},
	{"руб", "RUB"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"₽", "RUB"},
	{"¥", "CNY"},
	{"$", "USD"},
}

// Parse extracts the amount and currency from text such as "$1,200.50",
// "12,75€" or "Rp 1.000.000". The currency is empty when the text carries
// no recognisable marker.
func Parse(text string) (decimal.Decimal, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, "", ErrNoPrice
	}

	match := numberRegexp.FindString(text)
	if match == "" {
		return decimal.Zero, "", fmt.Errorf("%w in %q", ErrNoPrice, text)
	}

	amount, err := decimal.NewFromString(normaliseNumber(match))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("pricetext: parse %q: %w", text, err)
	}
	return amount, Currency(text), nil
}

// Currency detects the currency of a price string, or "" when unknown.
func Currency(text string) string {
	if m := isoRegexp.FindStringSubmatch(text); len(m) == 2 {
		return strings.ToUpper(m[1])
	}
	for _, s := range symbols {
		if strings.Contains(text, s.symbol) {
			return s.currency
		}
	}
	return ""
}

// normaliseNumber strips grouping separators and leaves '.' as the decimal
// point. With both separators present the right-most one is the decimal
// point; a lone comma followed by one or two digits is a decimal comma.
func normaliseNumber(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
