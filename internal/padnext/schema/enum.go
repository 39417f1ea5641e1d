package schema

import (
	"fmt"
	"strings"
)

// EnumValue is one allowed value with its lifetime. A zero Retired means the
// value is still current.
type EnumValue struct {
	Value      string
	Introduced Version
	Retired    Version
}

// ValidIn reports whether the value may be used in version v
func (e EnumValue) ValidIn(v Version) bool {
	if v.Before(e.Introduced) {
		return false
	}
	return e.Retired.IsZero() || v.Before(e.Retired)
}

// Enumeration is a named set of versioned values
type Enumeration struct {
	Name   string
	values []EnumValue
}

// NewEnumeration builds an enumeration from its value history
func NewEnumeration(name string, values ...EnumValue) Enumeration {
	return Enumeration{Name: name, values: values}
}

// Accept checks membership of s in version v
func (e Enumeration) Accept(s string, v Version) (string, *Violation) {
	ev, ok := e.lookup(s)
	if !ok {
		return "", violation(KindInvalidEnum, e.Name, "one of "+e.describe(v), s)
	}
	if v.Before(ev.Introduced) {
		return "", violation(KindInvalidEnum, e.Name,
			fmt.Sprintf("one of %s (value introduced in %s)", e.describe(v), ev.Introduced), s)
	}
	if !ev.Retired.IsZero() && !v.Before(ev.Retired) {
		return "", violation(KindInvalidEnum, e.Name,
			fmt.Sprintf("one of %s (value retired in %s)", e.describe(v), ev.Retired), s)
	}
	return s, nil
}

// Values lists the values allowed in version v
func (e Enumeration) Values(v Version) []string {
	var out []string
	for _, ev := range e.values {
		if ev.ValidIn(v) {
			out = append(out, ev.Value)
		}
	}
	return out
}

// Introduced returns the version a value first appeared in
func (e Enumeration) Introduced(value string) (Version, bool) {
	ev, ok := e.lookup(value)
	return ev.Introduced, ok
}

// Retired returns the version a value was removed in, if it was
func (e Enumeration) Retired(value string) (Version, bool) {
	ev, ok := e.lookup(value)
	if !ok || ev.Retired.IsZero() {
		return Version{}, false
	}
	return ev.Retired, true
}

func (e Enumeration) lookup(s string) (EnumValue, bool) {
	for _, ev := range e.values {
		if ev.Value == s {
			return ev, true
		}
	}
	return EnumValue{}, false
}

func (e Enumeration) describe(v Version) string {
	return "[" + strings.Join(e.Values(v), ", ") + "]"
}
