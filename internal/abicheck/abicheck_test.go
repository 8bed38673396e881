package abicheck

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementaryName(t *testing.T) {
	tests := map[string]string{
		"int":       "int256",
		"uint":      "uint256",
		"uint[]":    "uint256[]",
		"int[3]":    "int256[3]",
		"fixed":     "fixed128x128",
		"ufixed[2]": "ufixed128x128[2]",
		"uint8":     "uint8",
		"address":   "address",
	}
	for in, want := range tests {
		assert.Equal(t, want, ElementaryName(in), in)
	}
}

func TestCheckWidth(t *testing.T) {
	tests := []struct {
		name    string
		types   []string
		size    int
		wantErr error
	}{
		{"uint256 and bool exact", []string{"uint256", "bool"}, 64, nil},
		{"uint256 and bool short", []string{"uint256", "bool"}, 63, ErrSizeMismatch},
		{"uint256 and bool long", []string{"uint256", "bool"}, 65, ErrSizeMismatch},
		{"static array", []string{"address[3]"}, 96, nil},
		{"nested static array", []string{"uint8[2][3]"}, 192, nil},
		{"dynamic array head", []string{"uint256[]"}, 32, nil},
		{"short names", []string{"uint", "int", "fixed"}, 96, nil},
		{"bytes32", []string{"bytes32"}, 32, nil},
		{"bytes33", []string{"bytes33"}, 32, ErrInvalidTypeWidth},
		{"bytes0", []string{"bytes0"}, 32, ErrInvalidTypeWidth},
		{"uint7", []string{"uint7"}, 32, ErrInvalidTypeWidth},
		{"int264", []string{"int264"}, 32, ErrInvalidTypeWidth},
		{"no arguments", nil, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckWidth(tt.types, make([]byte, tt.size))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func mustArgs(t *testing.T, types ...string) abi.Arguments {
	t.Helper()
	args, err := arguments(types)
	require.NoError(t, err)
	return args
}

func TestCheckRoundTrip(t *testing.T) {
	t.Run("static scalars", func(t *testing.T) {
		data, err := mustArgs(t, "uint256", "bool", "address").Pack(
			big.NewInt(42), true, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
		require.NoError(t, err)
		assert.NoError(t, CheckRoundTrip([]string{"uint", "bool", "address"}, data))
	})

	t.Run("fixed size array", func(t *testing.T) {
		data, err := mustArgs(t, "uint8[3]").Pack([3]uint8{1, 2, 3})
		require.NoError(t, err)
		assert.NoError(t, CheckRoundTrip([]string{"uint8[3]"}, data))
	})

	t.Run("dynamic array and string", func(t *testing.T) {
		data, err := mustArgs(t, "uint256[]", "string").Pack(
			[]*big.Int{big.NewInt(1), big.NewInt(2)}, "hello")
		require.NoError(t, err)
		assert.NoError(t, CheckRoundTrip([]string{"uint256[]", "string"}, data))
	})

	t.Run("trailing bytes", func(t *testing.T) {
		data, err := mustArgs(t, "uint256").Pack(big.NewInt(7))
		require.NoError(t, err)
		data = append(data, 0x00)
		assert.ErrorIs(t, CheckRoundTrip([]string{"uint256"}, data), ErrInvalid)
	})

	t.Run("truncated data", func(t *testing.T) {
		assert.ErrorIs(t, CheckRoundTrip([]string{"uint256"}, make([]byte, 31)), ErrInvalid)
	})

	t.Run("non canonical bool", func(t *testing.T) {
		data := make([]byte, 32)
		data[31] = 2
		assert.ErrorIs(t, CheckRoundTrip([]string{"bool"}, data), ErrInvalid)
	})
}

func TestCheck(t *testing.T) {
	data := strings.Repeat("00", 64)
	assert.NoError(t, Check(ModeWidth, []string{"uint256", "bool"}, data))
	assert.NoError(t, Check(ModeRoundTrip, []string{"uint256", "bool"}, data))
	assert.ErrorIs(t, Check(ModeWidth, []string{"uint256"}, data), ErrSizeMismatch)
	assert.ErrorIs(t, Check(ModeRoundTrip, []string{"uint256"}, "zz"), ErrInvalid)
	assert.Error(t, Check(Mode("other"), nil, ""))
}

func TestConstructorTypes(t *testing.T) {
	types, err := ConstructorTypes(`[{"type":"function","name":"f","inputs":[]},{"type":"constructor","inputs":[{"name":"a","type":"uint256"},{"name":"b","type":"address[]"}]}]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"uint256", "address[]"}, types)

	types, err = ConstructorTypes(`[{"type":"function","name":"f","inputs":[]}]`)
	require.NoError(t, err)
	assert.Nil(t, types)

	_, err = ConstructorTypes(`not json`)
	assert.Error(t, err)
}
