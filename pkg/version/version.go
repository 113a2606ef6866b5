// Package version implements the fimo version algebra: parsing,
// the three comparison orders, compatibility, and buffer-exact string
// encoding (spec §4.1), grounded on utilities/fimo_version_core/src/lib.rs
// of the original implementation.
package version

import (
	"strconv"
	"strings"

	"github.com/fimoengine/fimo/internal/ferr"
)

// PreKind is the release-type axis of a Version.
type PreKind int8

const (
	Stable PreKind = iota
	Unstable
	Beta
)

func (k PreKind) String() string {
	switch k {
	case Stable:
		return "Stable"
	case Beta:
		return "Beta"
	case Unstable:
		return "Unstable"
	default:
		return "Unknown"
	}
}

// precedence orders release kinds for `compare`: Unstable < Beta < Stable.
var precedence = map[PreKind]int{Unstable: 0, Beta: 1, Stable: 2}

// Version is the fimo version tuple (spec §3).
type Version struct {
	Major      int32
	Minor      int32
	Patch      int32
	Build      int64
	PreNumber  int8
	PreKind    PreKind
}

// NewShort builds a stable version with only major.minor.patch set.
func NewShort(major, minor, patch int32) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// NewLong builds a version with a release kind/number; Stable always
// forces PreNumber to 0, matching Version::new_long in the original.
func NewLong(major, minor, patch int32, kind PreKind, preNumber int8) Version {
	if kind == Stable {
		preNumber = 0
	}
	return Version{Major: major, Minor: minor, Patch: patch, PreKind: kind, PreNumber: preNumber}
}

// NewFull additionally sets the build number.
func NewFull(major, minor, patch int32, kind PreKind, preNumber int8, build int64) Version {
	v := NewLong(major, minor, patch, kind, preNumber)
	v.Build = build
	return v
}

// Compare orders two versions ignoring the build number but
// considering the release kind and number.
func (v Version) Compare(o Version) int {
	if c := v.CompareWeak(o); c != 0 {
		return c
	}
	if c := precedence[v.PreKind] - precedence[o.PreKind]; c != 0 {
		return sign(c)
	}
	return sign(int(v.PreNumber) - int(o.PreNumber))
}

// CompareWeak orders two versions by (major, minor, patch) only.
func (v Version) CompareWeak(o Version) int {
	if c := cmp32(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmp32(v.Minor, o.Minor); c != 0 {
		return c
	}
	return cmp32(v.Patch, o.Patch)
}

// CompareStrong refines Compare with the build number as a final
// tiebreaker.
func (v Version) CompareStrong(o Version) int {
	if c := v.Compare(o); c != 0 {
		return c
	}
	return sign(int(v.Build - o.Build))
}

// IsCompatible reports whether v can be used where other was requested
// (spec §4.1/§3): same major (and, pre-1.0, same minor), v <= other by
// Compare, with a release-kind-dependent refinement.
func (v Version) IsCompatible(other Version) bool {
	if v.Major != other.Major {
		return false
	}
	if v.Major == 0 && v.Minor != other.Minor {
		return false
	}
	c := v.Compare(other)
	if c > 0 {
		return false
	}
	switch v.PreKind {
	case Stable:
		return true
	case Unstable:
		return c == 0
	case Beta:
		return v.CompareWeak(other) == 0
	default:
		return false
	}
}

func cmp32(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// StringLengthShort returns len(major.minor.patch).
func (v Version) StringLengthShort() int {
	return digits(v.Major) + 1 + digits(v.Minor) + 1 + digits(v.Patch)
}

// StringLengthLong additionally accounts for the "-beta"/"-unstable"
// suffix and ".N" release number.
func (v Version) StringLengthLong() int {
	length := v.StringLengthShort()
	switch v.PreKind {
	case Stable:
		return length
	case Beta:
		length += len("-beta")
	case Unstable:
		length += len("-unstable")
	}
	if v.PreNumber != 0 {
		length += 1 + digitsI8(v.PreNumber)
	}
	return length
}

// StringLengthFull additionally accounts for "+BUILD".
func (v Version) StringLengthFull() int {
	length := v.StringLengthLong()
	if v.Build != 0 {
		length += 1 + digits64(v.Build)
	}
	return length
}

func digits(n int32) int   { return len(strconv.FormatInt(int64(n), 10)) }
func digitsI8(n int8) int  { return len(strconv.FormatInt(int64(n), 10)) }
func digits64(n int64) int { return len(strconv.FormatInt(n, 10)) }

// WriteShort writes "major.minor.patch" into buf, failing with a
// BufferOverflow *ferr.Error if buf is shorter than StringLengthShort.
func (v Version) WriteShort(buf []byte) (int, error) {
	s := v.formatShort()
	return writeExact(buf, s, v.StringLengthShort())
}

// WriteLong writes the short form plus the pre-release suffix.
func (v Version) WriteLong(buf []byte) (int, error) {
	s := v.formatLong()
	return writeExact(buf, s, v.StringLengthLong())
}

// WriteFull writes the long form plus the build suffix.
func (v Version) WriteFull(buf []byte) (int, error) {
	s := v.formatFull()
	return writeExact(buf, s, v.StringLengthFull())
}

func writeExact(buf []byte, s string, needed int) (int, error) {
	if len(buf) < needed {
		return 0, ferr.BufferOverflow(len(buf), needed)
	}
	return copy(buf, s), nil
}

func (v Version) formatShort() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(int64(v.Major), 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatInt(int64(v.Minor), 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatInt(int64(v.Patch), 10))
	return b.String()
}

func (v Version) formatLong() string {
	var b strings.Builder
	b.WriteString(v.formatShort())
	switch v.PreKind {
	case Beta:
		b.WriteString("-beta")
	case Unstable:
		b.WriteString("-unstable")
	case Stable:
		return b.String()
	}
	if v.PreNumber != 0 {
		b.WriteByte('.')
		b.WriteString(strconv.FormatInt(int64(v.PreNumber), 10))
	}
	return b.String()
}

func (v Version) formatFull() string {
	var b strings.Builder
	b.WriteString(v.formatLong())
	if v.Build != 0 {
		b.WriteByte('+')
		b.WriteString(strconv.FormatInt(v.Build, 10))
	}
	return b.String()
}

// String implements fmt.Stringer with the full encoding.
func (v Version) String() string { return v.formatFull() }
