package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Sign restricts the range of a BoundedInteger
type Sign int

const (
	Positive Sign = iota
	NonNegative
)

// BoundedInteger accepts integers with a bounded number of decimal digits
type BoundedInteger struct {
	MaxDigits int
	// MinDigits is 0 unless the value has a fixed width, as transfer numbers do
	MinDigits int
	Sign      Sign
}

// Accept parses raw and checks sign and digit count. Leading zeros count
// toward the width on the wire.
func (b BoundedInteger) Accept(raw string) (int64, *Violation) {
	s := strings.TrimSpace(raw)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, violation(KindConstraint, "integer", "a decimal integer", raw)
	}
	if len(strings.TrimLeft(s, "+-")) > b.MaxDigits {
		return 0, violation(KindConstraint, "max-digits", b.describe(), raw)
	}
	return b.check(n, raw)
}

// AcceptInt checks an already typed value
func (b BoundedInteger) AcceptInt(n int64) (int64, *Violation) {
	return b.check(n, strconv.FormatInt(n, 10))
}

func (b BoundedInteger) check(n int64, raw string) (int64, *Violation) {
	switch b.Sign {
	case Positive:
		if n <= 0 {
			return 0, violation(KindConstraint, "positive", "a positive integer", raw)
		}
	case NonNegative:
		if n < 0 {
			return 0, violation(KindConstraint, "non-negative", "a non-negative integer", raw)
		}
	}
	d := digits(n)
	if d > b.MaxDigits {
		return 0, violation(KindConstraint, "max-digits", b.describe(), raw)
	}
	if b.MinDigits > 0 && d < b.MinDigits {
		return 0, violation(KindConstraint, "min-digits", b.describe(), raw)
	}
	return n, nil
}

func (b BoundedInteger) describe() string {
	if b.MinDigits == b.MaxDigits {
		return fmt.Sprintf("exactly %d digits", b.MaxDigits)
	}
	if b.MinDigits > 0 {
		return fmt.Sprintf("%d to %d digits", b.MinDigits, b.MaxDigits)
	}
	return fmt.Sprintf("at most %d digits", b.MaxDigits)
}

func digits(n int64) int {
	if n < 0 {
		n = -n
	}
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}

// BoundedString accepts strings whose length in code points lies in [Min, Max]
type BoundedString struct {
	Min int
	Max int
}

// Accept checks the code point length of s
func (b BoundedString) Accept(s string) (string, *Violation) {
	n := utf8.RuneCountInString(s)
	if n > b.Max {
		return "", violation(KindConstraint, "max-length", fmt.Sprintf("at most %d characters", b.Max), s)
	}
	if n < b.Min {
		return "", violation(KindConstraint, "min-length", fmt.Sprintf("at least %d characters", b.Min), s)
	}
	return s, nil
}

// Pattern accepts strings of bounded length that match a regular expression
type Pattern struct {
	Name string
	Expr *regexp.Regexp
	Max  int
}

// Accept checks length and shape of s
func (p Pattern) Accept(s string) (string, *Violation) {
	if p.Max > 0 {
		if _, v := (BoundedString{Max: p.Max}).Accept(s); v != nil {
			return "", v
		}
	}
	if !p.Expr.MatchString(s) {
		return "", violation(KindConstraint, "pattern", p.Name, s)
	}
	return s, nil
}

// Boolean accepts the xsd:boolean lexical forms
type Boolean struct{}

// Accept parses true, false, 1 or 0
func (Boolean) Accept(raw string) (bool, *Violation) {
	switch strings.TrimSpace(raw) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, violation(KindConstraint, "boolean", "true, false, 1 or 0", raw)
}

// Wire layouts for timestamps
const (
	DateTimeLayout = "2006-01-02T15:04:05"
	DateLayout     = "2006-01-02"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	DateTimeLayout,
}

// DateTime accepts ISO-8601 date-times, or plain dates when DateOnly is set
type DateTime struct {
	DateOnly bool
}

// Accept parses s
func (d DateTime) Accept(s string) (time.Time, *Violation) {
	s = strings.TrimSpace(s)
	if d.DateOnly {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return time.Time{}, violation(KindMalformedTimestamp, "date", "an ISO-8601 date (YYYY-MM-DD)", s)
		}
		return t, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, violation(KindMalformedTimestamp, "date-time", "an ISO-8601 date-time", s)
}

// FormatDateTime renders t in the wire layout
func FormatDateTime(t time.Time) string { return t.Format(DateTimeLayout) }

// FormatDate renders the date part of t
func FormatDate(t time.Time) string { return t.Format(DateLayout) }
