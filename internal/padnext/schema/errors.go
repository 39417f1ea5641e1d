package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a violation
type Kind string

const (
	KindConstraint         Kind = "ConstraintViolation"
	KindInvalidEnum        Kind = "InvalidEnumValue"
	KindMalformedTimestamp Kind = "MalformedTimestamp"
	KindStructural         Kind = "StructuralViolation"
)

// Sentinels for errors.Is matching against a Violation's kind
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrInvalidEnumValue    = errors.New("invalid enum value")
	ErrMalformedTimestamp  = errors.New("malformed timestamp")
	ErrStructuralViolation = errors.New("structural violation")
)

// Violation describes one failed check on one field
type Violation struct {
	Path     string `json:"path"`
	Kind     Kind   `json:"kind"`
	Rule     string `json:"rule"`
	Expected string `json:"expected"`
	Value    string `json:"value,omitempty"`
}

func (v *Violation) Error() string {
	var b strings.Builder
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s (%s): expected %s", v.Kind, v.Rule, v.Expected)
	if v.Value != "" {
		fmt.Fprintf(&b, ", got %q", v.Value)
	}
	return b.String()
}

// Is lets callers match a violation with the kind sentinels
func (v *Violation) Is(target error) bool {
	switch target {
	case ErrConstraintViolation:
		return v.Kind == KindConstraint
	case ErrInvalidEnumValue:
		return v.Kind == KindInvalidEnum
	case ErrMalformedTimestamp:
		return v.Kind == KindMalformedTimestamp
	case ErrStructuralViolation:
		return v.Kind == KindStructural
	}
	return false
}

// At returns a copy of the violation anchored at path
func (v *Violation) At(path string) Violation {
	c := *v
	c.Path = path
	return c
}

func violation(kind Kind, rule, expected, value string) *Violation {
	return &Violation{Kind: kind, Rule: rule, Expected: expected, Value: value}
}

// Structural builds a StructuralViolation at path
func Structural(path, rule, expected, value string) Violation {
	return Violation{Path: path, Kind: KindStructural, Rule: rule, Expected: expected, Value: value}
}
