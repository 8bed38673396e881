// Package abicheck verifies that a constructor-argument blob is exactly
// consumable by a list of ABI parameter types.
package abicheck

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	// ErrSizeMismatch means the static width of the types differs from the data length.
	ErrSizeMismatch = errors.New("constructor arguments size mismatch")
	// ErrInvalid means the data does not decode and re-encode to itself.
	ErrInvalid = errors.New("constructor arguments invalid")
	// ErrInvalidTypeWidth means a bytesN/intN/uintN type has an out-of-range N.
	ErrInvalidTypeWidth = errors.New("invalid type width")
)

// Mode selects how constructor arguments are checked.
type Mode string

const (
	ModeRoundTrip Mode = "roundtrip"
	ModeWidth     Mode = "width"
)

// Check runs the check selected by mode against hex-encoded data.
func Check(mode Mode, types []string, data string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return fmt.Errorf("%w: not hex: %v", ErrInvalid, err)
	}
	switch mode {
	case ModeWidth:
		return CheckWidth(types, raw)
	case ModeRoundTrip, "":
		return CheckRoundTrip(types, raw)
	default:
		return fmt.Errorf("unknown constructor check mode %q", mode)
	}
}

// ElementaryName converts short type names to their canonical form.
func ElementaryName(name string) string {
	switch {
	case strings.HasPrefix(name, "int["):
		return "int256" + name[3:]
	case name == "int":
		return "int256"
	case strings.HasPrefix(name, "uint["):
		return "uint256" + name[4:]
	case name == "uint":
		return "uint256"
	case strings.HasPrefix(name, "fixed["):
		return "fixed128x128" + name[5:]
	case name == "fixed":
		return "fixed128x128"
	case strings.HasPrefix(name, "ufixed["):
		return "ufixed128x128" + name[6:]
	case name == "ufixed":
		return "ufixed128x128"
	}
	return name
}

var (
	arraySuffix = regexp.MustCompile(`^(.*)\[([0-9]*)\]$`)
	typeN       = regexp.MustCompile(`^\D+(\d+)$`)
)

// CheckWidth requires the summed static width of types to equal len(data).
func CheckWidth(types []string, data []byte) error {
	size := 0
	for _, t := range types {
		w, err := staticWidth(ElementaryName(t))
		if err != nil {
			return err
		}
		size += w
	}
	if size != len(data) {
		return fmt.Errorf("%w: not all data from constructor consumed: %d from %d", ErrSizeMismatch, size, len(data))
	}
	return nil
}

func staticWidth(t string) (int, error) {
	if m := arraySuffix.FindStringSubmatch(t); m != nil {
		if m[2] == "" {
			return 32, nil
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, fmt.Errorf("%w: array size of %s", ErrInvalidTypeWidth, t)
		}
		sub, err := staticWidth(m[1])
		if err != nil {
			return 0, err
		}
		return sub * n, nil
	}

	isBytes := strings.HasPrefix(t, "bytes") && t != "bytes"
	isInt := strings.HasPrefix(t, "uint") || strings.HasPrefix(t, "int")
	if isBytes || isInt {
		m := typeN.FindStringSubmatch(t)
		if m == nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidTypeWidth, t)
		}
		n, _ := strconv.Atoi(m[1])
		if isBytes && (n < 1 || n > 32) {
			return 0, fmt.Errorf("%w: invalid bytes<N> width: %d", ErrInvalidTypeWidth, n)
		}
		if isInt && (n%8 != 0 || n < 8 || n > 256) {
			return 0, fmt.Errorf("%w: invalid int/uint<N> width: %d", ErrInvalidTypeWidth, n)
		}
	}
	return 32, nil
}

// CheckRoundTrip decodes data against types and re-encodes it; the result must be
// byte-identical to data.
func CheckRoundTrip(types []string, data []byte) error {
	args, err := arguments(types)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	values, err := args.Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: decoding: %v", ErrInvalid, err)
	}
	encoded, err := args.Pack(values...)
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrInvalid, err)
	}
	if !bytes.Equal(encoded, data) {
		return fmt.Errorf("%w: re-encoded arguments differ (%d bytes vs %d)", ErrInvalid, len(encoded), len(data))
	}
	return nil
}

func arguments(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for i, t := range types {
		typ, err := abi.NewType(ElementaryName(t), "", nil)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, abi.Argument{Name: fmt.Sprintf("arg%d", i), Type: typ})
	}
	return args, nil
}

type abiEntry struct {
	Type   string `json:"type"`
	Inputs []struct {
		Type string `json:"type"`
	} `json:"inputs"`
}

// ConstructorTypes returns the constructor parameter types declared in an ABI
// JSON document. It returns nil when the ABI has no constructor.
func ConstructorTypes(abiJSON string) ([]string, error) {
	var entries []abiEntry
	if err := json.Unmarshal([]byte(abiJSON), &entries); err != nil {
		return nil, fmt.Errorf("parsing ABI: %w", err)
	}
	for _, e := range entries {
		if e.Type != "constructor" {
			continue
		}
		types := make([]string, 0, len(e.Inputs))
		for _, in := range e.Inputs {
			types = append(types, in.Type)
		}
		return types, nil
	}
	return nil, nil
}
