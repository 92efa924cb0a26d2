// 批处理入口：对一个地理层级执行差异比对与连接，输出 {geography}_join.geojson
//
// 用法：geojoin <geography>，例如 geojoin FL_block_2010
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geojoin/internal/join"
	"geojoin/internal/logger"
	"geojoin/internal/migrate"
	"geojoin/internal/profile"
	"geojoin/internal/store"
	"geojoin/internal/utils"

	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"
	"golang.org/x/xerrors"
)

// config：批处理路径与开关
type config struct {
	dir         string
	outDir      string
	diagnostics bool
	progress    int
}

func configFromEnv() config {
	dir := utils.EnvString("JOIN_DIR", "data")
	return config{
		dir:         dir,
		outDir:      utils.EnvString("JOIN_OUTPUT_DIR", filepath.Join(dir, "output")),
		diagnostics: utils.EnvBool("JOIN_DIAGNOSTICS"),
		progress:    utils.EnvInt("JOIN_PROGRESS_EVERY", 100000),
	}
}

func (c config) census(g string) string {
	return filepath.Join(c.dir, "shape", g+"_shape_census.geojson")
}
func (c config) nhgis(g string) string {
	return filepath.Join(c.dir, "shape", g+"_shape_nhgis.geojson")
}
func (c config) data(g string) string { return filepath.Join(c.dir, "data", g+"_data.csv") }
func (c config) output(g string) string { return filepath.Join(c.outDir, g+"_join.geojson") }

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	if len(os.Args) < 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: geojoin <geography>")
		os.Exit(2)
	}
	geography := os.Args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rs *store.Store
	if utils.EnvBool("RUN_STORE_ENABLE") {
		db, err := utils.OpenPostgresFromEnv()
		if err == nil {
			err = migrate.EnsureSchema(ctx, db)
		}
		if err != nil {
			l.Error("run_store_error", "err", err)
		} else {
			rs = store.AttachDB(db)
			defer rs.Close()
		}
	}

	started := time.Now()
	res, out, err := runBatch(ctx, configFromEnv(), profile.Default(), geography)
	if rs != nil {
		record(ctx, rs, geography, started, res, out, err)
	}
	if err != nil {
		l.Error("join_failed", "geography", geography, "err", err)
		stop()
		os.Exit(1)
	}
	l.Info("join_done",
		"geography", geography,
		"output", out,
		"joined", res.Join.Joins,
		"excluded", res.Excluded,
		"duration_ms", res.Duration.Milliseconds(),
	)
}

// 文档注释：执行一次批处理并原子替换输出文件
// 背景：查询服务监听输出目录，先写同目录临时文件再重命名，服务端不会读到半截文件。
// 异常：失败时删除临时文件，已有输出保持不变。
func runBatch(ctx context.Context, cfg config, profiles *profile.Registry, geography string) (*join.Result, string, error) {
	p, err := profiles.Lookup(geography)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		return nil, "", xerrors.Errorf("output dir: %w", err)
	}
	out := cfg.output(geography)
	tmp, err := os.CreateTemp(cfg.outDir, "."+geography+"_join-*.tmp")
	if err != nil {
		return nil, "", xerrors.Errorf("temp output: %w", err)
	}
	defer os.Remove(tmp.Name())

	logger.L().Info("join_start", "geography", geography, "profile", p.ID,
		"census", cfg.census(geography), "nhgis", cfg.nhgis(geography), "data", cfg.data(geography))
	bw := bufio.NewWriterSize(tmp, 1<<20)
	res, err := join.Run(ctx, p, join.Inputs{
		Census:   join.FileOpener(cfg.census(geography)),
		External: join.FileOpener(cfg.nhgis(geography)),
		Data:     join.FileOpener(cfg.data(geography)),
	}, bw, join.Options{ProgressEvery: cfg.progress, KeepResiduals: cfg.diagnostics})
	if err == nil {
		err = bw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, "", err
	}
	if err := atomic.ReplaceFile(tmp.Name(), out); err != nil {
		return nil, "", xerrors.Errorf("replace %s: %w", out, err)
	}
	if cfg.diagnostics && res.Residuals != nil {
		if err := writeDiagnostics(cfg, geography, p.CanonicalField, res.Residuals); err != nil {
			return res, out, err
		}
	}
	return res, out, nil
}

// writeDiagnostics：未匹配的数据行与边界分别落盘
func writeDiagnostics(cfg config, geography, canonicalField string, res *join.Residuals) error {
	var rows, shapes bytes.Buffer
	if err := join.WriteResidualRows(&rows, canonicalField, res); err != nil {
		return xerrors.Errorf("residual rows: %w", err)
	}
	if err := join.WriteResidualShapes(&shapes, res); err != nil {
		return xerrors.Errorf("residual shapes: %w", err)
	}
	rowsPath := filepath.Join(cfg.outDir, geography+"_data_buffer.json")
	shapesPath := filepath.Join(cfg.outDir, geography+"_shape_buffer.json")
	if err := atomic.WriteFile(rowsPath, &rows); err != nil {
		return xerrors.Errorf("write %s: %w", rowsPath, err)
	}
	if err := atomic.WriteFile(shapesPath, &shapes); err != nil {
		return xerrors.Errorf("write %s: %w", shapesPath, err)
	}
	logger.L().Info("diagnostics_written", "rows", rowsPath, "shapes", shapesPath,
		"unmatched_rows", len(res.Rows), "unmatched_shapes", len(res.Shapes))
	return nil
}

// record：写入运行记录；失败只记录日志
func record(ctx context.Context, rs *store.Store, geography string, started time.Time, res *join.Result, out string, runErr error) {
	r := &store.Run{Geography: geography, Status: store.RunOK, OutputPath: out, StartedAt: started,
		DurationMs: time.Since(started).Milliseconds()}
	if res != nil {
		r.Profile = res.Profile
		r.Excluded = int64(res.Excluded)
		r.Joined = int64(res.Join.Joins)
		r.UnmatchedRows = int64(res.Join.UnmatchedRows)
		r.UnmatchedShapes = int64(res.Join.UnmatchedShapes)
	}
	if runErr != nil {
		r.Status = store.RunFailed
		r.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rs.RecordRun(ctx, r); err != nil {
		logger.L().Error("run_record_error", "err", err)
	}
}
