package evm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	compiledHash = "1111111111111111111111111111111111111111111111111111111111111111"
	recordedHash = "abababababababababababababababababababababababababababababababab"
)

func TestReplaceSwarmHash(t *testing.T) {
	code := "6060604052" + swarmPrefix + compiledHash + swarmSuffix

	got, err := ReplaceSwarmHash(code, recordedHash)
	require.NoError(t, err)
	assert.Equal(t, "6060604052"+swarmPrefix+recordedHash+swarmSuffix, got)
	assert.Len(t, got, len(code))

	// Only the hash segment differs.
	diff := 0
	for i := range code {
		if code[i] != got[i] {
			diff++
		}
	}
	assert.LessOrEqual(t, diff, 64)
	assert.Equal(t, code[:len(code)-68], got[:len(got)-68])
	assert.Equal(t, code[len(code)-4:], got[len(got)-4:])
}

func TestReplaceSwarmHash_OnlyTrailing(t *testing.T) {
	inner := swarmPrefix + compiledHash + swarmSuffix
	code := "60" + inner + "6060" + inner

	got, err := ReplaceSwarmHash(code, recordedHash)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "60"+inner+"6060"), "embedded metadata must not change")
	hash, ok := SwarmHash(got)
	require.True(t, ok)
	assert.Equal(t, recordedHash, hash)
}

func TestReplaceSwarmHash_KeepsSurroundingText(t *testing.T) {
	upperPrefix := strings.ToUpper(swarmPrefix)
	tests := []struct {
		name string
		code string
		want string
	}{
		{
			name: "0x prefix",
			code: "0x6060" + swarmPrefix + compiledHash + swarmSuffix,
			want: "0x6060" + swarmPrefix + recordedHash + swarmSuffix,
		},
		{
			name: "upper case",
			code: "0X6060AB" + upperPrefix + strings.ToUpper(compiledHash) + swarmSuffix,
			want: "0X6060AB" + upperPrefix + recordedHash + swarmSuffix,
		},
		{
			name: "trailing newline",
			code: "6060" + swarmPrefix + compiledHash + swarmSuffix + "\n",
			want: "6060" + swarmPrefix + recordedHash + swarmSuffix + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReplaceSwarmHash(tt.code, recordedHash)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, len(tt.code))
		})
	}
}

func TestReplaceSwarmHash_Errors(t *testing.T) {
	_, err := ReplaceSwarmHash("6060604052", recordedHash)
	assert.ErrorIs(t, err, ErrNoSwarmMetadata)

	_, err = ReplaceSwarmHash("60"+swarmPrefix+compiledHash+swarmSuffix, "abcd")
	assert.Error(t, err)
}

func TestLibraryPlaceholder(t *testing.T) {
	p := LibraryPlaceholder("Math")
	assert.Len(t, p, 40)
	assert.Equal(t, "__Math__________________________________", p)

	long := LibraryPlaceholder(strings.Repeat("x", 50))
	assert.Len(t, long, 40)
	assert.True(t, strings.HasPrefix(long, "__xxxx"))
}

func TestLinkLibraries(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000AA"
	code := "6060" + LibraryPlaceholder("Math") + "5050" + LibraryPlaceholder("Token.sol:Math") + "00"
	require.True(t, HasLibraryPlaceholders(code))

	linked := LinkLibraries(code, map[string]string{"Math": addr, "Token.sol:Math": addr})
	assert.Equal(t, "6060"+NormalizeHex(addr)+"5050"+NormalizeHex(addr)+"00", linked)
	assert.False(t, HasLibraryPlaceholders(linked))
}

func TestHasLibraryPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		bytecode string
		want     bool
	}{
		{
			name:     "no placeholders",
			bytecode: "608060405234801561001057600080fd5b50",
			want:     false,
		},
		{
			name:     "with placeholder",
			bytecode: "6080604052348015" + LibraryPlaceholder("SafeMath") + "600080fd5b50",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasLibraryPlaceholders(tt.bytecode); got != tt.want {
				t.Errorf("HasLibraryPlaceholders() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeHex(t *testing.T) {
	assert.Equal(t, "abcdef", NormalizeHex(" 0xABCDEF\n"))
	assert.Equal(t, "00", NormalizeHex("00"))
}
