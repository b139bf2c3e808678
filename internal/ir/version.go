package ir

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SchemaVersion is the artifact format version written into every ProtocolIR.
// Readers accept any artifact sharing the major component.
const SchemaVersion = "1.0"

// EngineVersion identifies the ethos build that produced an artifact.
const EngineVersion = "0.1.0"

// ErrInvalidVersion is returned for version strings outside [v]MAJOR.MINOR[.PATCH].
var ErrInvalidVersion = errors.New("invalid version")

var versionPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)(?:\.(\d+))?$`)

// Version is a node release version. Ordering is numeric on
// (major, minor, patch); the original text is kept for display so
// calendar versions such as "25.09" survive untouched.
type Version struct {
	Major int
	Minor int
	Patch int
	text  string
}

// ParseVersion parses "1.0", "v24.08" or "0.18.1".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}
	patch := 0
	if m[3] != "" {
		patch, err = strconv.Atoi(m[3])
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
	}
	return Version{Major: major, Minor: minor, Patch: patch, text: strings.TrimPrefix(s, "v")}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
// Use only in tests or with literal inputs.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or 1. "1.0" and "1.0.0" compare equal.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// IsZero reports whether v was never set.
func (v Version) IsZero() bool {
	return v.text == "" && v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

// String returns the version as it was written, without a leading "v".
func (v Version) String() string {
	if v.text != "" {
		return v.text
	}
	if v.Patch != 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionRange is the half-open interval [IntroducedIn, RemovedIn).
// A nil RemovedIn means the descriptor is still present.
type VersionRange struct {
	IntroducedIn Version  `json:"introduced_in"`
	RemovedIn    *Version `json:"removed_in,omitempty"`
}

// Since returns the open range [v, ∞).
func Since(v Version) VersionRange {
	return VersionRange{IntroducedIn: v}
}

// Between returns the closed-open range [from, to).
func Between(from, to Version) VersionRange {
	return VersionRange{IntroducedIn: from, RemovedIn: &to}
}

// Covers reports whether v falls inside the range.
func (r VersionRange) Covers(v Version) bool {
	if v.Less(r.IntroducedIn) {
		return false
	}
	return r.RemovedIn == nil || v.Less(*r.RemovedIn)
}

// Overlaps reports whether some version is covered by both ranges.
func (r VersionRange) Overlaps(o VersionRange) bool {
	if r.RemovedIn != nil && !o.IntroducedIn.Less(*r.RemovedIn) {
		return false
	}
	if o.RemovedIn != nil && !r.IntroducedIn.Less(*o.RemovedIn) {
		return false
	}
	return true
}

// Contains reports whether o lies entirely inside r.
func (r VersionRange) Contains(o VersionRange) bool {
	if o.IntroducedIn.Less(r.IntroducedIn) {
		return false
	}
	if r.RemovedIn == nil {
		return true
	}
	if o.RemovedIn == nil {
		return false
	}
	return o.RemovedIn.Compare(*r.RemovedIn) <= 0
}

// Valid reports whether the range is well-formed: introduced strictly
// before removed.
func (r VersionRange) Valid() bool {
	if r.IntroducedIn.IsZero() {
		return false
	}
	return r.RemovedIn == nil || r.IntroducedIn.Less(*r.RemovedIn)
}

// Close returns a copy of r ending at v.
func (r VersionRange) Close(v Version) VersionRange {
	return VersionRange{IntroducedIn: r.IntroducedIn, RemovedIn: &v}
}

func (r VersionRange) String() string {
	if r.RemovedIn == nil {
		return fmt.Sprintf("[%s, ∞)", r.IntroducedIn)
	}
	return fmt.Sprintf("[%s, %s)", r.IntroducedIn, r.RemovedIn)
}
