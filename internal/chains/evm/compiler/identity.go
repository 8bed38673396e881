package compiler

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultIdentityRemap maps identities reported by builds whose self-report
// differs from the commit in their archive name.
var DefaultIdentityRemap = map[string]string{}

var (
	trailingRun   = regexp.MustCompile(`([a-z0-9]+)$`)
	legacyVersion = regexp.MustCompile(`^([0-9]+\.[0-9]+\.[0-9]+)-([0-9a-f]{8})[/*].*$`)
)

// Identity is the short build fingerprint of a compiler string: the first six
// characters of its trailing alphanumeric run.
func Identity(s string) (string, bool) {
	m := trailingRun.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	id := m[1]
	if len(id) > 6 {
		id = id[:6]
	}
	return id, true
}

// ReportedSemver converts a build's self-reported version to semver form,
// e.g. "0.1.1-6ff4cd6b/RelWithDebInfo-Linux/g++" to "0.1.1+commit.6ff4cd6b".
func ReportedSemver(reported string) string {
	if m := legacyVersion.FindStringSubmatch(reported); m != nil {
		return m[1] + "+commit." + m[2]
	}
	switch {
	case strings.Contains(reported, "0.1.3-0"):
		return "0.1.3"
	case strings.Contains(reported, "0.3.5-0"):
		return "0.3.5"
	}
	return strings.Replace(reported, ".Emscripten.clang", "", 1)
}

// CheckIdentity verifies that the build reporting reported is the one named
// by compiler. An empty report skips the check.
func CheckIdentity(compiler, reported string, remap map[string]string) error {
	if reported == "" {
		return nil
	}
	want, ok := Identity(compiler)
	if !ok {
		return fmt.Errorf("%w: no build identity in %q", ErrInvalidInput, compiler)
	}
	got, ok := Identity(ReportedSemver(reported))
	if !ok {
		return fmt.Errorf("%w: compiler reported %q", ErrCompilerIdentityMismatch, reported)
	}
	if mapped, ok := remap[got]; ok {
		got = mapped
	}
	if got != want {
		return fmt.Errorf("%w: record names %s, compiler reports %s (%s)", ErrCompilerIdentityMismatch, want, got, reported)
	}
	return nil
}
