package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// SearchPaths is the search order for config files when no path is given
var SearchPaths = []string{"contract-verify.toml", "verify.toml"}

// DefaultRPC is the endpoint used for the foundation network when none is configured
const DefaultRPC = "http://localhost:8545/"

// Config holds all configuration for the verifier
type Config struct {
	Contracts    ContractsConfig          `toml:"contracts"`
	Solc         SolcConfig               `toml:"solc"`
	Compilers    CompilersConfig          `toml:"compilers"`
	Verification VerificationConfig       `toml:"verification"`
	Jobs         int                      `toml:"jobs"`
	Logging      LoggingConfig            `toml:"logging"`
	Results      ResultsConfig            `toml:"results"`
	Metrics      MetricsConfig            `toml:"metrics"`
	Networks     map[string]NetworkConfig `toml:"networks"`

	// Path is the file the config was loaded from, empty when only defaults and env apply
	Path string `toml:"-"`
}

// ContractsConfig locates the record store
type ContractsConfig struct {
	Dir string `toml:"dir"`
}

// SolcConfig holds compiler download and cache settings
type SolcConfig struct {
	CacheDir   string `toml:"cache_dir"`
	ArchiveURL string `toml:"archive_url"`
}

// CompilersConfig holds compiler identity settings
type CompilersConfig struct {
	// IdentityRemap maps a requested compiler string to the one the binary reports
	IdentityRemap map[string]string `toml:"identity_remap"`
}

// VerificationConfig holds verification settings
type VerificationConfig struct {
	// ConstructorCheck is "roundtrip" or "width"
	ConstructorCheck string `toml:"constructor_check"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// ResultsConfig holds results ledger settings
type ResultsConfig struct {
	Type     string         `toml:"type"` // "sqlite", "postgres" or "none"
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string `toml:"url"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NetworkConfig holds the JSON-RPC endpoint of one network
type NetworkConfig struct {
	RPC               string  `toml:"rpc"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Default returns the configuration used when no file or env overrides apply
func Default() *Config {
	return &Config{
		Contracts: ContractsConfig{Dir: "./contracts"},
		Solc: SolcConfig{
			CacheDir:   ".soljson",
			ArchiveURL: "https://binaries.soliditylang.org/bin",
		},
		Compilers:    CompilersConfig{IdentityRemap: map[string]string{}},
		Verification: VerificationConfig{ConstructorCheck: "roundtrip"},
		Jobs:         runtime.NumCPU(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Results: ResultsConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "./data/results.db"},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Networks: map[string]NetworkConfig{
			"foundation": {RPC: DefaultRPC},
		},
	}
}

// Load reads the config file at path, or the first file in SearchPaths when path is
// empty, then applies environment overrides. A missing file is only an error when
// path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := findConfig(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if _, err := toml.DecodeFile(file, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		cfg.Path = file
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfig(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	for _, name := range SearchPaths {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

func applyEnv(cfg *Config) {
	cfg.Contracts.Dir = getEnv("CONTRACTS_DIR", cfg.Contracts.Dir)
	cfg.Solc.CacheDir = getEnv("SOLJSON_CACHE_DIR", cfg.Solc.CacheDir)
	cfg.Solc.ArchiveURL = getEnv("SOLJSON_ARCHIVE_URL", cfg.Solc.ArchiveURL)
	cfg.Jobs = getEnvInt("VERIFY_JOBS", cfg.Jobs)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Results.Type = getEnv("RESULTS_STORE", cfg.Results.Type)
	cfg.Results.SQLite.Path = getEnv("SQLITE_PATH", cfg.Results.SQLite.Path)
	cfg.Results.Postgres.URL = getEnv("DATABASE_URL", cfg.Results.Postgres.URL)
	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = getEnv("METRICS_ADDR", cfg.Metrics.Addr)

	// If DATABASE_URL is set without an explicit store, default to postgres
	if os.Getenv("DATABASE_URL") != "" && os.Getenv("RESULTS_STORE") == "" && cfg.Results.Type == "sqlite" {
		cfg.Results.Type = "postgres"
	}

	if cfg.Networks == nil {
		cfg.Networks = map[string]NetworkConfig{}
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, "RPC_") {
			continue
		}
		name := envNetworkName(strings.TrimPrefix(key, "RPC_"))
		n := cfg.Networks[name]
		n.RPC = value
		cfg.Networks[name] = n
	}
}

// envNetworkName turns ROOTSTOCK_TESTNET into "rootstock testnet"
func envNetworkName(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", " ")
}

// Validate reports configuration values the verifier cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be at least 1, got %d", c.Jobs))
	}
	switch c.Verification.ConstructorCheck {
	case "roundtrip", "width":
	default:
		errs = append(errs, fmt.Errorf("verification.constructor_check must be roundtrip or width, got %q", c.Verification.ConstructorCheck))
	}
	switch c.Results.Type {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("results.type must be sqlite, postgres or none, got %q", c.Results.Type))
	}
	if c.Results.Type == "postgres" && c.Results.Postgres.URL == "" {
		errs = append(errs, errors.New("results.postgres.url is required for the postgres store"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	for name, n := range c.Networks {
		if n.RequestsPerSecond < 0 {
			errs = append(errs, fmt.Errorf("networks.%s.requests_per_second must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// NetworkNames returns the configured network names in sorted order
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
