//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/storage"
)

// TestLedger_Postgres exercises the Postgres results ledger end to end
func TestLedger_Postgres(t *testing.T) {
	ctx := context.Background()
	run, results := seedRun(t, time.Now().Add(-time.Minute).Truncate(time.Microsecond))

	t.Run("run is finished with counts", func(t *testing.T) {
		got, err := testCtx.Store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunFailed, got.Status)
		assert.Equal(t, 1, got.Passed)
		assert.Equal(t, 1, got.Failed)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.StartedAt.Equal(run.StartedAt))
	})

	t.Run("results are listed in record order", func(t *testing.T) {
		got, err := testCtx.Store.ListResults(ctx, storage.ResultFilter{RunID: run.ID})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, results[0].ContractID, got[0].ContractID)
		assert.Equal(t, results[1].ContractID, got[1].ContractID)
		assert.True(t, got[0].Passed)
		assert.Equal(t, 1, got[0].Warnings)
	})

	t.Run("failed only", func(t *testing.T) {
		got, err := testCtx.Store.ListResults(ctx, storage.ResultFilter{RunID: run.ID, FailedOnly: true})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "SourceMismatch", got[0].Kind)
		assert.Equal(t, "source check: source mismatch", got[0].Message)
	})

	t.Run("finishing twice fails", func(t *testing.T) {
		err := testCtx.Store.FinishRun(ctx, run)
		assert.ErrorIs(t, err, storage.ErrRunFinished)
	})

	t.Run("unknown ids", func(t *testing.T) {
		_, err := testCtx.Store.GetRun(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = testCtx.Store.GetRun(ctx, "6f1c2a3e-0c4e-4a8e-9d7b-2f7c1e5b9a10")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = testCtx.Store.FinishRun(ctx, &storage.Run{ID: "6f1c2a3e-0c4e-4a8e-9d7b-2f7c1e5b9a10"})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		got, err := testCtx.Store.ListResults(ctx, storage.ResultFilter{RunID: "not-a-uuid"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("latest run", func(t *testing.T) {
		newer, _ := seedRun(t, time.Now().Truncate(time.Microsecond))
		got, err := testCtx.Store.LatestRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})
}
