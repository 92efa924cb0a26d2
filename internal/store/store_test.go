package store

import (
	"context"
	"os"
	"testing"
	"time"

	"geojoin/internal/migrate"
	"geojoin/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore：需要 PG_TEST_DSN 指向可写的测试库，否则跳过
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := utils.OpenPostgres(dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, migrate.EnsureSchema(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE _join_runs, _join_query_stats_daily`)
	require.NoError(t, err)
	s := AttachDB(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)

	for i, g := range []string{"FL_block_2010", "GA_block_2010", "FL_block_2010"} {
		r := &Run{Geography: g, Profile: "block_2010", Status: RunOK, Joined: int64(i), StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.RecordRun(ctx, r))
		assert.NotZero(t, r.ID)
	}

	runs, err := s.ListRuns(ctx, "FL_block_2010", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.EqualValues(t, 2, runs[0].Joined)

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQueryStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IncrQueryStats(ctx, "FL_block_2010", false))
	require.NoError(t, s.IncrQueryStats(ctx, "FL_block_2010", true))
	require.NoError(t, s.IncrQueryStats(ctx, "GA_block_2010", false))

	totals, err := s.GetTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, Totals{Dataset: "FL_block_2010", Total: 2, Today: 2, CacheHits: 1}, totals[0])
}
