package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/database"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	client, err := database.Open(ctx, config.DatabaseConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	s, err := New(ctx, client)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(split string, recall float64) *evaluation.Report {
	return &evaluation.Report{
		Split: split,
		Aggregate: evaluation.Aggregate{
			TotalClaims:            4000,
			ClaimsWithFullCoverage: 1800,
			CoverageRate:           0.45,
			AverageRecall:          recall,
		},
		ExcludedClaims: 2,
		ByHops: map[int]*evaluation.Aggregate{
			2: {TotalClaims: 1126, ClaimsWithFullCoverage: 700, CoverageRate: 700.0 / 1126, AverageRecall: 0.8},
			3: {TotalClaims: 1835, ClaimsWithFullCoverage: 800, CoverageRate: 800.0 / 1835, AverageRecall: 0.6},
		},
	}
}

func TestSaveAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	first := RunFromReport("run-1", 3, 100, sampleReport("dev", 0.61))
	first.CreatedAt = base
	second := RunFromReport("run-2", 4, 100, sampleReport("dev", 0.64))
	second.CreatedAt = base.Add(1500 * time.Millisecond)
	other := RunFromReport("run-2", 4, 100, sampleReport("train", 0.70))
	other.CreatedAt = base.Add(time.Second)

	for _, r := range []Run{first, second, other} {
		require.NoError(t, s.Save(ctx, r))
	}

	runs, err := s.List(ctx, "dev", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID, "newest first")
	assert.Equal(t, uint64(4), runs[0].Generation)
	assert.InDelta(t, 0.64, runs[0].AverageRecall, 1e-12)
	assert.Equal(t, 1126, runs[0].ByHops[2].TotalClaims)
	assert.True(t, runs[0].CreatedAt.Equal(second.CreatedAt))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSaveReplacesSameRunAndSplit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, RunFromReport("nightly", 1, 100, sampleReport("dev", 0.5))))
	require.NoError(t, s.Save(ctx, RunFromReport("nightly", 2, 50, sampleReport("dev", 0.55))))

	latest, ok, err := s.Latest(ctx, "dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Generation)
	assert.Equal(t, 50, latest.K)
	assert.Equal(t, 2, latest.ExcludedClaims)

	runs, err := s.List(ctx, "dev", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, ok, err = s.Latest(ctx, "test")
	require.NoError(t, err)
	assert.False(t, ok)
}
