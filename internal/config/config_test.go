package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract-verify.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.Path)
	assert.Equal(t, "./contracts", cfg.Contracts.Dir)
	assert.Equal(t, ".soljson", cfg.Solc.CacheDir)
	assert.Equal(t, "roundtrip", cfg.Verification.ConstructorCheck)
	assert.GreaterOrEqual(t, cfg.Jobs, 1)
	assert.Equal(t, "sqlite", cfg.Results.Type)
	assert.Equal(t, DefaultRPC, cfg.Networks["foundation"].RPC)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
jobs = 3

[contracts]
dir = "/data/contracts"

[compilers.identity_remap]
"0.4.9+commit.364da425" = "0.4.9-nightly.2017.1.13+commit.364da425"

[verification]
constructor_check = "width"

[results]
type = "none"

[networks.ropsten]
rpc = "http://ropsten:8545/"
requests_per_second = 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 3, cfg.Jobs)
	assert.Equal(t, "/data/contracts", cfg.Contracts.Dir)
	assert.Equal(t, "width", cfg.Verification.ConstructorCheck)
	assert.Equal(t, "none", cfg.Results.Type)
	assert.Equal(t, "0.4.9-nightly.2017.1.13+commit.364da425", cfg.Compilers.IdentityRemap["0.4.9+commit.364da425"])
	assert.Equal(t, NetworkConfig{RPC: "http://ropsten:8545/", RequestsPerSecond: 5}, cfg.Networks["ropsten"])
	assert.Equal(t, DefaultRPC, cfg.Networks["foundation"].RPC, "defaults survive a partial networks table")
	assert.Equal(t, []string{"foundation", "ropsten"}, cfg.NetworkNames())
}

func TestLoadSearchPaths(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("verify.toml", []byte("jobs = 2\n"), 0644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "verify.toml", cfg.Path)
	assert.Equal(t, 2, cfg.Jobs)

	require.NoError(t, os.WriteFile("contract-verify.toml", []byte("jobs = 4\n"), 0644))
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "contract-verify.toml", cfg.Path)
	assert.Equal(t, 4, cfg.Jobs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
jobs = 3

[contracts]
dir = "/data/contracts"

[logging]
level = "warn"
`)
	t.Setenv("VERIFY_JOBS", "7")
	t.Setenv("CONTRACTS_DIR", "/env/contracts")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("RPC_ROOTSTOCK_TESTNET", "http://rsk-test:4444/")
	t.Setenv("RPC_FOUNDATION", "http://mainnet:8545/")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Jobs)
	assert.Equal(t, "/env/contracts", cfg.Contracts.Dir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "http://rsk-test:4444/", cfg.Networks["rootstock testnet"].RPC)
	assert.Equal(t, "http://mainnet:8545/", cfg.Networks["foundation"].RPC)
}

func TestLoadDatabaseURLSelectsPostgres(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://verify@localhost/verify")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Results.Type)
	assert.Equal(t, "postgres://verify@localhost/verify", cfg.Results.Postgres.URL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"invalid toml", "jobs = ", "parsing"},
		{"zero jobs", "jobs = 0", "jobs must be at least 1"},
		{"unknown check", "[verification]\nconstructor_check = \"loose\"", "constructor_check"},
		{"unknown store", "[results]\ntype = \"mongo\"", "results.type"},
		{"postgres without url", "[results]\ntype = \"postgres\"", "results.postgres.url"},
		{"unknown log format", "[logging]\nformat = \"xml\"", "logging.format"},
		{"negative rate", "[networks.kovan]\nrpc = \"http://kovan/\"\nrequests_per_second = -1", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestEnvNetworkName(t *testing.T) {
	assert.Equal(t, "foundation", envNetworkName("FOUNDATION"))
	assert.Equal(t, "classic testnet", envNetworkName("CLASSIC_TESTNET"))
}
