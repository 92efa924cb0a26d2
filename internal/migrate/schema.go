package migrate

import (
	"context"
	"database/sql"

	"geojoin/internal/logger"

	"golang.org/x/xerrors"
)

// 背景：首次运行自动创建批处理记录与查询统计表
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _join_runs (
            id BIGSERIAL PRIMARY KEY,
            geography TEXT NOT NULL,
            profile TEXT NOT NULL,
            status TEXT NOT NULL,
            output_path TEXT NOT NULL DEFAULT '',
            excluded BIGINT NOT NULL DEFAULT 0,
            joined BIGINT NOT NULL DEFAULT 0,
            unmatched_rows BIGINT NOT NULL DEFAULT 0,
            unmatched_shapes BIGINT NOT NULL DEFAULT 0,
            error TEXT NOT NULL DEFAULT '',
            started_at TIMESTAMPTZ NOT NULL,
            duration_ms BIGINT NOT NULL DEFAULT 0
        )`,
		`CREATE INDEX IF NOT EXISTS idx_join_runs_geo ON _join_runs(geography, started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS _join_query_stats_daily (
            dataset TEXT NOT NULL,
            day DATE NOT NULL,
            queries BIGINT NOT NULL DEFAULT 0,
            cache_hits BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (dataset, day)
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return xerrors.Errorf("schema stmt %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
