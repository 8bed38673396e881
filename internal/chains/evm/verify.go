package evm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoSwarmMetadata is returned when bytecode does not end with the swarm metadata blob.
var ErrNoSwarmMetadata = errors.New("no trailing swarm metadata")

// Swarm metadata appended by solc >=0.4.7:
// 0xa1 0x65 'bzzr0' 0x58 0x20 <32 byte hash> 0x00 0x29
const (
	swarmPrefix = "a165627a7a72305820"
	swarmSuffix = "0029"
)

var (
	swarmTrailer    = regexp.MustCompile(swarmPrefix + `([0-9a-f]{64})` + swarmSuffix + `$`)
	swarmTrailerRaw = regexp.MustCompile(`(?i)` + swarmPrefix + `([0-9a-f]{64})` + swarmSuffix + `\s*$`)
	swarmHash       = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Legacy link placeholder: "__" + library name, padded with '_' to 40 characters.
const placeholderLen = 40

// NormalizeHex lower-cases a hex string and strips a 0x prefix.
func NormalizeHex(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}

// SwarmHash returns the swarm hash of the trailing metadata blob, if any.
func SwarmHash(bytecode string) (string, bool) {
	m := swarmTrailer.FindStringSubmatch(NormalizeHex(bytecode))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ReplaceSwarmHash substitutes hash into the trailing metadata blob of bytecode.
// Everything outside the 64 hex characters of the hash is left untouched.
func ReplaceSwarmHash(bytecode, hash string) (string, error) {
	hash = NormalizeHex(hash)
	if !swarmHash.MatchString(hash) {
		return "", fmt.Errorf("invalid swarm hash %q", hash)
	}
	loc := swarmTrailerRaw.FindStringSubmatchIndex(bytecode)
	if loc == nil {
		return "", ErrNoSwarmMetadata
	}
	return bytecode[:loc[2]] + hash + bytecode[loc[3]:], nil
}

// LibraryPlaceholder returns the legacy link placeholder for a library name.
func LibraryPlaceholder(name string) string {
	if len(name) > placeholderLen-4 {
		name = name[:placeholderLen-4]
	}
	p := "__" + name
	return p + strings.Repeat("_", placeholderLen-len(p))
}

// LinkLibraries replaces legacy link placeholders with library addresses.
// libraries maps a library name, optionally file-qualified ("file.sol:Lib"),
// to its deployed address.
func LinkLibraries(bytecode string, libraries map[string]string) string {
	for name, addr := range libraries {
		addr = NormalizeHex(addr)
		bytecode = strings.ReplaceAll(bytecode, LibraryPlaceholder(name), addr)
	}
	return bytecode
}

// HasLibraryPlaceholders checks if bytecode still contains unresolved link placeholders.
// Hex never contains '_', so any "__" marks one.
func HasLibraryPlaceholders(bytecode string) bool {
	return strings.Contains(bytecode, "__")
}
