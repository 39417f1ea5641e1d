package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// Decoding failures wrapped by ParseError
var (
	ErrUnexpectedRoot  = errors.New("unexpected root element")
	ErrNoVersion       = errors.New("no schema version declared or given")
	ErrVersionMismatch = errors.New("declared schema version differs from the expected one")
	ErrMissingRequired = errors.New("required elements missing")
)

// EncodeError is returned when a document cannot be encoded. No bytes are
// produced in that case.
type EncodeError struct {
	Root       string
	Version    schema.Version
	Violations []schema.Violation
	Err        error
}

func (e *EncodeError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("cannot encode %s: %d violation(s) against schema %s",
			e.Root, len(e.Violations), e.Version)
	}
	return fmt.Sprintf("cannot encode %s: %v", e.Root, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ParseError is returned for wire bytes that cannot be turned into a
// complete document. When only required elements are missing, the partial
// document is returned alongside the error.
type ParseError struct {
	Root    string
	Version string
	// Missing lists the paths of absent required elements
	Missing []string
	Err     error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("cannot decode")
	if e.Root != "" {
		b.WriteString(" " + e.Root)
	}
	if e.Version != "" {
		b.WriteString(" (schema " + e.Version + ")")
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if len(e.Missing) > 0 {
		b.WriteString(": " + strings.Join(e.Missing, ", "))
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }
