package parser

import (
	"strconv"
	"strings"
)

// Kind discriminates the two value types a parsed field can hold.
type Kind uint8

const (
	KindNumber Kind = iota
	KindText
)

// Value is a tagged variant: either a numeric field or a text field.
// Parsed records carry these instead of untyped interface{} values so
// downstream code never type-asserts.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Number wraps a float64 as a numeric Value.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// Text wraps a string as a text Value.
func Text(s string) Value {
	return Value{Kind: KindText, Str: s}
}

// Numeric returns the numeric payload and whether the value is numeric.
func (v Value) Numeric() (float64, bool) {
	if v.Kind == KindNumber {
		return v.Num, true
	}
	return 0, false
}

// unitSuffixes are stripped before numeric coercion, longest first so
// "ms" wins over "s" and "kb"/"mb" over nothing.
var unitSuffixes = []string{"ms", "kb", "mb", "s", "%"}

// coerceNumeric converts strings like "5000ms", "85%", "1.5s" or "1024kb"
// to their numeric value. The unit is stripped and ignored; "%" is not
// divided by 100. Returns false when the string is not a number with an
// optional unit suffix.
func coerceNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	body := s
	lower := strings.ToLower(s)
	for _, unit := range unitSuffixes {
		if strings.HasSuffix(lower, unit) {
			body = s[:len(s)-len(unit)]
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(body), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
