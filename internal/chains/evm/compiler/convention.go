package compiler

import (
	"fmt"
	"regexp"

	"golang.org/x/mod/semver"
)

// Convention is a compiler calling convention.
type Convention int

const (
	// ConventionEarly is compileJSON on a single source text (< 0.1.6).
	ConventionEarly Convention = iota
	// ConventionV016 is compileJSONMulti on a source map (0.1.6 to 0.2.0).
	ConventionV016
	// ConventionV021 shares the 0.1.6 entry point (0.2.1 to 0.4.10).
	ConventionV021
	// ConventionStandard is standard JSON input and output (>= 0.4.11).
	ConventionStandard
)

func (c Convention) String() string {
	switch c {
	case ConventionEarly:
		return "early"
	case ConventionV016:
		return "v0.1.6"
	case ConventionV021:
		return "v0.2.1"
	case ConventionStandard:
		return "standard"
	default:
		return fmt.Sprintf("Convention(%d)", int(c))
	}
}

var leadingVersion = regexp.MustCompile(`^([0-9]+\.[0-9]+\.[0-9]+)`)

// ParseVersion returns the leading X.Y.Z of a compiler string in semver
// form ("v0.4.11").
func ParseVersion(compiler string) (string, error) {
	m := leadingVersion.FindStringSubmatch(compiler)
	if m == nil {
		return "", fmt.Errorf("%w: cannot parse compiler version %q", ErrInvalidInput, compiler)
	}
	v := "v" + m[1]
	if !semver.IsValid(v) {
		return "", fmt.Errorf("%w: cannot parse compiler version %q", ErrInvalidInput, compiler)
	}
	return v, nil
}

// SelectConvention picks the calling convention for a compiler string.
func SelectConvention(compiler string) (Convention, error) {
	v, err := ParseVersion(compiler)
	if err != nil {
		return 0, err
	}
	switch {
	case semver.Compare(v, "v0.4.11") >= 0:
		return ConventionStandard, nil
	case semver.Compare(v, "v0.2.1") >= 0:
		return ConventionV021, nil
	case semver.Compare(v, "v0.1.6") >= 0:
		return ConventionV016, nil
	default:
		return ConventionEarly, nil
	}
}
