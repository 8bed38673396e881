//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/storage"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("verify"),
		postgres.WithUsername("verify"),
		postgres.WithPassword("verify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startServerE opens the Postgres ledger through the config path used by the
// CLI and serves it with httptest
func startServerE(ctx context.Context, connString string) (*httptest.Server, storage.Store, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := storage.New(config.ResultsConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: connString},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}

	metrics.Init(true, "contract-verify-e2e")
	srv := server.New(store, logger)
	return httptest.NewServer(srv.Handler()), store, nil
}

// getJSON fetches path from the test server and decodes the body into a map
func getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.TestServer.URL+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

// seedRun records a finished run with one passing and one failing result
func seedRun(t *testing.T, startedAt time.Time) (*storage.Run, []*storage.Result) {
	t.Helper()
	ctx := context.Background()

	run := &storage.Run{Jobs: 2, Total: 2, StartedAt: startedAt}
	require.NoError(t, testCtx.Store.CreateRun(ctx, run))

	results := []*storage.Result{
		{
			RunID:      run.ID,
			ContractID: "0x6ac7ea33f8831ea9dcc53393aaa88b25a785dbf0-1",
			Address:    "0x6ac7ea33f8831ea9dcc53393aaa88b25a785dbf0",
			Network:    "foundation",
			TxID:       "0x3b2a2ae9c5d44bd1f1c8f8d4e1a6b9e7c3d2f1a0b9c8d7e6f5a4b3c2d1e0f9a8",
			Compiler:   "0.4.11+commit.68ef5810",
			Passed:     true,
			Warnings:   1,
			CreatedAt:  startedAt.Add(time.Second),
		},
		{
			RunID:      run.ID,
			ContractID: "0x0000000000000000000000000000000000000001-3",
			Address:    "0x0000000000000000000000000000000000000001",
			Network:    "ropsten",
			TxID:       "0x0f0e000000000000000000000000000000000000000000000000000000000001:0",
			Compiler:   "0.1.6+commit.d41f8b7c",
			Kind:       "SourceMismatch",
			Message:    "source check: source mismatch",
			CreatedAt:  startedAt.Add(2 * time.Second),
		},
	}
	for _, r := range results {
		require.NoError(t, testCtx.Store.RecordResult(ctx, r))
	}

	run.Passed = 1
	run.Failed = 1
	require.NoError(t, testCtx.Store.FinishRun(ctx, run))
	return run, results
}
