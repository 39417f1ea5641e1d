// Package schema provides the versioned PADnext type system: constrained
// primitives, enumerations with a version history, and the per-version
// presence rules for every field path.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Namespace is the PADnext XML namespace shared by all message kinds
const Namespace = "http://padinfo.de/ns/pad"

// Version identifies a PADnext schema revision such as 2.12
type Version struct {
	Major int
	Minor int
}

// Known schema revisions, oldest first
var knownVersions = []Version{
	{2, 0}, {2, 1}, {2, 2}, {2, 3}, {2, 4}, {2, 5}, {2, 6},
	{2, 7}, {2, 8}, {2, 9}, {2, 10}, {2, 11}, {2, 12},
}

// Latest is the newest supported revision
var Latest = knownVersions[len(knownVersions)-1]

// ErrUnsupportedVersion is returned for malformed or unknown revisions
var ErrUnsupportedVersion = errors.New("unsupported schema version")

// V is shorthand for building a version literal
func V(major, minor int) Version { return Version{Major: major, Minor: minor} }

// ParseVersion parses "2.12" into a Version. Only known revisions are accepted.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return Version{}, fmt.Errorf("%w: malformed %q", ErrUnsupportedVersion, s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return Version{}, fmt.Errorf("%w: malformed %q", ErrUnsupportedVersion, s)
	}
	mnr, err := strconv.Atoi(minor)
	if err != nil {
		return Version{}, fmt.Errorf("%w: malformed %q", ErrUnsupportedVersion, s)
	}
	v := Version{Major: maj, Minor: mnr}
	if !v.IsKnown() {
		return Version{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants; it panics on error
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the dotted form used on the wire
func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// Compare returns -1, 0 or 1
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

// Before reports whether v is older than o
func (v Version) Before(o Version) bool { return v.Compare(o) < 0 }

// AtLeast reports whether v is o or newer
func (v Version) AtLeast(o Version) bool { return v.Compare(o) >= 0 }

// IsZero reports whether the version is unset
func (v Version) IsZero() bool { return v == Version{} }

// IsKnown reports whether v is a supported revision
func (v Version) IsKnown() bool {
	for _, k := range knownVersions {
		if k == v {
			return true
		}
	}
	return false
}

// Known returns all supported revisions, oldest first
func Known() []Version {
	out := make([]Version, len(knownVersions))
	copy(out, knownVersions)
	return out
}
