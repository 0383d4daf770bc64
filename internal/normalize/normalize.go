// Package normalize cleans raw invoice text into canonical scalar values.
// None of the functions return errors: unusable input becomes an empty or null value.
package normalize

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order; day-before-month layouts come before month-first ones
var dateLayouts = []string{
	"2006-1-2",
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2006/1/2",
	"2006.1.2",
	"2/1/06",
	"1/2/2006",
}

// CleanDescription trims whitespace and strips any leading run of dashes
// and spaces used as list markers
func CleanDescription(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
	return strings.TrimSpace(s)
}

// CleanAccessKey keeps only the ASCII digits of s
func CleanAccessKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseDate reads the first ten characters of s as a calendar date,
// preferring day-before-month. It returns nil when no layout matches.
func ParseDate(s string) *civil.Date {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 10 {
		s = string([]rune(s)[:10])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := civil.DateOf(t)
		return &d
	}
	return nil
}

// ParseDecimal parses s as a number. When s contains a comma it is read with
// comma as the decimal separator and dots as thousand separators.
// Empty or invalid text yields an invalid (null) decimal.
func ParseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
