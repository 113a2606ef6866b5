package version

import (
	"regexp"
	"strconv"

	"github.com/fimoengine/fimo/internal/ferr"
)

// grammar is the anchored version string grammar from spec §6:
// MAJOR '.' MINOR '.' PATCH ( '-' ('unstable'|'beta') ( '.' N )? )? ( '+' BUILD )?
var grammar = regexp.MustCompile(
	`^(?P<major>\d+)\.(?P<minor>\d+)\.(?P<patch>\d+)(-(?P<kind>unstable|beta)(\.(?P<pre>\d+))?)?(\+(?P<build>\d+))?$`,
)

// Parse parses a version string per the grammar in spec §6. A partial
// match (trailing garbage, missing components) fails with
// CodeInvalidVersionString.
func Parse(s string) (Version, error) {
	m := grammar.FindStringSubmatch(s)
	if m == nil {
		return Version{}, ferr.Newf(ferr.CodeInvalidVersionString, "invalid version string %q", s)
	}
	names := grammar.SubexpNames()
	group := func(name string) string {
		for i, n := range names {
			if n == name {
				return m[i]
			}
		}
		return ""
	}

	major, err := parseI32(group("major"))
	if err != nil {
		return Version{}, ferr.Wrap(ferr.CodeInvalidVersionString, "invalid major component", err)
	}
	minor, err := parseI32(group("minor"))
	if err != nil {
		return Version{}, ferr.Wrap(ferr.CodeInvalidVersionString, "invalid minor component", err)
	}
	patch, err := parseI32(group("patch"))
	if err != nil {
		return Version{}, ferr.Wrap(ferr.CodeInvalidVersionString, "invalid patch component", err)
	}

	kind := Stable
	switch group("kind") {
	case "beta":
		kind = Beta
	case "unstable":
		kind = Unstable
	}

	var preNumber int8
	if pre := group("pre"); pre != "" {
		n, err := parseI8(pre)
		if err != nil {
			return Version{}, ferr.Wrap(ferr.CodeInvalidVersionString, "invalid pre-release number", err)
		}
		preNumber = n
	}
	if kind == Stable {
		preNumber = 0
	}

	var build int64
	if b := group("build"); b != "" {
		v, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return Version{}, ferr.Wrap(ferr.CodeInvalidVersionString, "invalid build component", err)
		}
		build = v
	}

	return Version{
		Major:     major,
		Minor:     minor,
		Patch:     patch,
		Build:     build,
		PreNumber: preNumber,
		PreKind:   kind,
	}, nil
}

// StringIsValid reports whether s matches the version grammar exactly.
func StringIsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func parseI32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func parseI8(s string) (int8, error) {
	v, err := strconv.ParseInt(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return int8(v), nil
}
