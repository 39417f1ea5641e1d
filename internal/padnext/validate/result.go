// Package validate checks PADnext documents against one schema revision.
//
// Validation runs in two phases. The field phase walks the document in wire
// order and consults the per-version rule table for presence, then checks
// each present value against its constrained type. The cross-field phase
// then checks counts, uniqueness and sums. Operands that already failed
// their own field check are skipped there, so one defect is reported once.
//
// Validation is pure: it never mutates the document and is safe for
// concurrent use.
package validate

import (
	"fmt"
	"strings"

	"github.com/drfirst/go-padnext/internal/padnext/document"
	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Result holds the ordered violations found for one document
type Result struct {
	Version    schema.Version     `json:"version"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

// Valid reports whether no violation was found
func (r *Result) Valid() bool { return len(r.Violations) == 0 }

// Err returns an *Error carrying the violations, or nil when valid
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &Error{Version: r.Version, Violations: r.Violations}
}

// Kinds counts violations per kind
func (r *Result) Kinds() map[schema.Kind]int {
	out := make(map[schema.Kind]int)
	for _, v := range r.Violations {
		out[v.Kind]++
	}
	return out
}

// Error is returned for a document that failed validation
type Error struct {
	Version    schema.Version
	Violations []schema.Violation
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d violation(s) against schema %s", len(e.Violations), e.Version)
	for i := range e.Violations {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Violations)-3)
			break
		}
		b.WriteString("; ")
		b.WriteString(e.Violations[i].Error())
	}
	return b.String()
}

// Unwrap exposes the violations so errors.Is matches their kinds
func (e *Error) Unwrap() []error {
	out := make([]error, len(e.Violations))
	for i := range e.Violations {
		out[i] = &e.Violations[i]
	}
	return out
}

// Document validates any supported document type
func Document(doc any, v schema.Version) (*Result, error) {
	switch d := doc.(type) {
	case *document.Auftrag:
		return Auftrag(d, v), nil
	case *document.Quittung:
		return Quittung(d, v), nil
	case *document.Rechnungen:
		return Rechnungen(d, v), nil
	}
	return nil, fmt.Errorf("unsupported document type %T", doc)
}
