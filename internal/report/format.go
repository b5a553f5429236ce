package report

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders numbers for a locale.
type Formatter struct {
	p *message.Printer
}

// NewFormatter builds a formatter; unknown locales fall back to English.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Formatter{p: message.NewPrinter(tag)}
}

// Percent formats a ratio (0.98) as a locale percentage ("98 %" in French).
func (f *Formatter) Percent(ratio float64) string {
	return f.p.Sprint(number.Percent(ratio, number.MaxFractionDigits(0)))
}

// Number formats a value with grouping and at most two decimals.
func (f *Formatter) Number(v float64) string {
	return f.p.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
}

// plainSpaces swaps the narrow and non-breaking spaces some locales use for
// regular spaces, which the core PDF fonts can draw.
func plainSpaces(s string) string {
	return strings.NewReplacer("\u202f", " ", "\u00a0", " ").Replace(s)
}
