// 包 store: PostgreSQL 数据访问层，记录批处理运行结果与按数据集的每日查询统计
package store

import (
	"context"
	"database/sql"
	"time"

	"geojoin/internal/logger"

	_ "github.com/lib/pq"
	"golang.org/x/xerrors"
)

// Store: 数据库访问入口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

// Run: 一次批处理运行的记录
type Run struct {
	ID              int64     `json:"id"`
	Geography       string    `json:"geography"`
	Profile         string    `json:"profile"`
	Status          string    `json:"status"`
	OutputPath      string    `json:"output_path"`
	Excluded        int64     `json:"excluded"`
	Joined          int64     `json:"joined"`
	UnmatchedRows   int64     `json:"unmatched_rows"`
	UnmatchedShapes int64     `json:"unmatched_shapes"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationMs      int64     `json:"duration_ms"`
}

const (
	RunOK     = "ok"
	RunFailed = "failed"
)

// RecordRun: 写入运行记录并回填 ID
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	row := s.db.QueryRowContext(ctx, `INSERT INTO _join_runs(geography, profile, status, output_path, excluded, joined, unmatched_rows, unmatched_shapes, error, started_at, duration_ms)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		r.Geography, r.Profile, r.Status, r.OutputPath, r.Excluded, r.Joined, r.UnmatchedRows, r.UnmatchedShapes, r.Error, r.StartedAt, r.DurationMs,
	)
	if err := row.Scan(&r.ID); err != nil {
		return xerrors.Errorf("record run: %w", err)
	}
	logger.L().Debug("run_recorded", "id", r.ID, "geography", r.Geography, "status", r.Status)
	return nil
}

// ListRuns: 最近的运行记录，geography 为空时不过滤
func (s *Store) ListRuns(ctx context.Context, geography string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, geography, profile, status, output_path, excluded, joined, unmatched_rows, unmatched_shapes, error, started_at, duration_ms
        FROM _join_runs
        WHERE ($1 = '' OR geography = $1)
        ORDER BY started_at DESC, id DESC
        LIMIT $2`, geography, limit)
	if err != nil {
		return nil, xerrors.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Geography, &r.Profile, &r.Status, &r.OutputPath, &r.Excluded, &r.Joined,
			&r.UnmatchedRows, &r.UnmatchedShapes, &r.Error, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, xerrors.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IncrQueryStats: 递增数据集当日查询计数；hit 表示由缓存直接返回
// 约束：统计失败不影响查询，调用方只记录日志
func (s *Store) IncrQueryStats(ctx context.Context, dataset string, hit bool) error {
	hits := 0
	if hit {
		hits = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO _join_query_stats_daily(dataset, day, queries, cache_hits)
        VALUES($1, current_date, 1, $2)
        ON CONFLICT (dataset, day) DO UPDATE SET queries=_join_query_stats_daily.queries+1, cache_hits=_join_query_stats_daily.cache_hits+EXCLUDED.cache_hits`,
		dataset, hits)
	if err != nil {
		return xerrors.Errorf("incr stats: %w", err)
	}
	return nil
}

// Totals: 按数据集的累计与当日查询次数
type Totals struct {
	Dataset   string `json:"dataset"`
	Total     int64  `json:"total"`
	Today     int64  `json:"today"`
	CacheHits int64  `json:"cache_hits"`
}

// GetTotals: 读取各数据集的统计，用于 /stats 接口
func (s *Store) GetTotals(ctx context.Context) ([]Totals, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dataset,
            SUM(queries),
            COALESCE(SUM(queries) FILTER (WHERE day = current_date), 0),
            SUM(cache_hits)
        FROM _join_query_stats_daily
        GROUP BY dataset
        ORDER BY dataset`)
	if err != nil {
		return nil, xerrors.Errorf("totals: %w", err)
	}
	defer rows.Close()
	var out []Totals
	for rows.Next() {
		var t Totals
		if err := rows.Scan(&t.Dataset, &t.Total, &t.Today, &t.CacheHits); err != nil {
			return nil, xerrors.Errorf("scan totals: %w", err)
		}
		out = append(out, t)
	}
	logger.L().Debug("stats_totals", "datasets", len(out))
	return out, rows.Err()
}
