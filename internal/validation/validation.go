// Package validation checks user and record input for contract verification.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

// Transaction ids are a 32-byte hash, optionally followed by a dotted
// trace path naming an internal creation, e.g. 0x...:0.1
var (
	txHashRegex     = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	tracePathRegex  = regexp.MustCompile(`^\d+(\.\d+)*$`)
	contractIDRegex = regexp.MustCompile(`^0x[0-9a-f]{40}-\d+$`)
	commitRegex     = regexp.MustCompile(`^commit\.[0-9a-f]{8}`)
)

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateTxID validates a creation transaction id
func ValidateTxID(txid string) error {
	if txid == "" {
		return errors.New("txid cannot be empty")
	}
	hash, path, hasPath := strings.Cut(txid, ":")
	if !txHashRegex.MatchString(hash) {
		return errors.New("invalid txid: must be 0x followed by 64 hex characters")
	}
	if hasPath && !tracePathRegex.MatchString(path) {
		return fmt.Errorf("invalid txid trace path %q: must be dot-separated indices", path)
	}
	return nil
}

// ValidateContractID validates a record id of the form {address}-{chainId}
func ValidateContractID(id string) error {
	if !contractIDRegex.MatchString(id) {
		return fmt.Errorf("invalid contract id %q: must be a lowercase address followed by -<chain id>", id)
	}
	return nil
}

// ValidateCompiler validates a full compiler build string such as
// 0.4.11+commit.68ef5810 or 0.4.9-nightly.2017.1.13+commit.364da425
func ValidateCompiler(v string) error {
	if v == "" {
		return errors.New("compiler cannot be empty")
	}
	if strings.HasPrefix(v, "v") {
		return errors.New("invalid compiler: must not start with v")
	}
	if !semver.IsValid("v" + v) {
		return errors.New("invalid compiler: must be in format X.Y.Z+commit.<hash>")
	}
	core := v
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core = v[:i]
	}
	if strings.Count(core, ".") != 2 {
		return errors.New("invalid compiler: must be in format X.Y.Z (major.minor.patch)")
	}
	_, build, _ := strings.Cut(v, "+")
	if !commitRegex.MatchString(build) {
		return errors.New("invalid compiler: build metadata must start with commit.<8 hex>")
	}
	return nil
}

// IsNightly reports whether a compiler build is a prerelease
func IsNightly(v string) bool {
	return semver.Prerelease("v"+v) != ""
}

// CompareCompilers compares two compiler builds by version
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareCompilers(v1, v2 string) int {
	return semver.Compare("v"+v1, "v"+v2)
}

// LatestCompiler finds the newest build in a list, skipping nightlies unless
// includeNightly is set or no release exists
func LatestCompiler(versions []string, includeNightly bool) string {
	if len(versions) == 0 {
		return ""
	}

	var candidates []string
	for _, v := range versions {
		if !includeNightly && IsNightly(v) {
			continue
		}
		candidates = append(candidates, v)
	}

	if len(candidates) == 0 {
		candidates = versions
	}

	latest := candidates[0]
	for _, v := range candidates[1:] {
		if CompareCompilers(v, latest) > 0 {
			latest = v
		}
	}

	return latest
}

// ValidateJobs validates a worker count
func ValidateJobs(jobs int) error {
	if jobs < 1 {
		return errors.New("jobs must be at least 1")
	}
	return nil
}
