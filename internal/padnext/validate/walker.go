package validate

import (
	"fmt"

	"github.com/drfirst/go-padnext/internal/padnext/schema"
)

// check validates one lexical value
type check func(string) *schema.Violation

// walker accumulates violations for one document and one version
type walker struct {
	rules  schema.RuleTable
	v      schema.Version
	out    []schema.Violation
	failed map[string]bool
}

func newWalker(rules schema.RuleTable, v schema.Version) *walker {
	return &walker{rules: rules, v: v, failed: make(map[string]bool)}
}

func (w *walker) add(v schema.Violation) {
	w.out = append(w.out, v)
}

// node checks the presence of path and reports whether its value or
// children should be inspected
func (w *walker) node(path string, present bool) bool {
	p, known := w.rules.Presence(path, w.v)
	if !known {
		return present
	}
	switch {
	case present && p == schema.Absent:
		w.failed[path] = true
		w.add(schema.Structural(path, "not-in-version",
			fmt.Sprintf("no such field in schema %s", w.v), ""))
		return false
	case !present && p == schema.Required:
		w.failed[path] = true
		w.add(schema.Structural(path, "required",
			fmt.Sprintf("a value (required in schema %s)", w.v), ""))
		return false
	}
	return present
}

// field checks presence of a leaf and then its value. An empty string
// counts as absent.
func (w *walker) field(path, value string, c check) {
	if w.node(path, value != "") {
		w.value(path, value, c)
	}
}

// value checks a value whose presence is already established
func (w *walker) value(path, value string, c check) {
	if viol := c(value); viol != nil {
		w.failed[path] = true
		w.add(viol.At(path))
	}
}

// namespace checks the root xmlns. An absent or foreign namespace is a
// structural error.
func (w *walker) namespace(path, got string) {
	if got != schema.Namespace {
		w.failed[path] = true
		w.add(schema.Structural(path, "namespace", schema.Namespace, got))
	}
}

// ok reports whether none of the paths failed a field check
func (w *walker) ok(paths ...string) bool {
	for _, p := range paths {
		if w.failed[p] {
			return false
		}
	}
	return true
}

func (w *walker) result() *Result {
	return &Result{Version: w.v, Violations: w.out}
}

func integer(b schema.BoundedInteger) check {
	return func(s string) *schema.Violation {
		_, v := b.Accept(s)
		return v
	}
}

func text(b schema.BoundedString) check {
	return func(s string) *schema.Violation {
		_, v := b.Accept(s)
		return v
	}
}

func pattern(p schema.Pattern) check {
	return func(s string) *schema.Violation {
		_, v := p.Accept(s)
		return v
	}
}

func timestamp(d schema.DateTime) check {
	return func(s string) *schema.Violation {
		_, v := d.Accept(s)
		return v
	}
}

func boolean(s string) *schema.Violation {
	_, v := schema.Boolean{}.Accept(s)
	return v
}

func (w *walker) enum(e schema.Enumeration) check {
	return func(s string) *schema.Violation {
		_, v := e.Accept(s, w.v)
		return v
	}
}

// declaredVersion requires a document's own version to be the target
func (w *walker) declaredVersion(s string) *schema.Violation {
	if s == w.v.String() {
		return nil
	}
	return &schema.Violation{
		Kind:     schema.KindConstraint,
		Rule:     "version",
		Expected: w.v.String(),
		Value:    s,
	}
}
