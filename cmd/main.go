// 程序入口：查询服务，仅负责读取配置、初始化依赖并启动 HTTP；路由注册在 internal/api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"geojoin/internal/api"
	"geojoin/internal/dataset"
	"geojoin/internal/logger"
	"geojoin/internal/metrics"
	"geojoin/internal/middleware"
	"geojoin/internal/migrate"
	"geojoin/internal/profile"
	"geojoin/internal/query"
	"geojoin/internal/store"
	"geojoin/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiBase := strings.TrimSuffix(utils.EnvString("API_BASE", "/data"), "/")
	joinDir := utils.EnvString("JOIN_DIR", "data")
	outDir := utils.EnvString("JOIN_OUTPUT_DIR", filepath.Join(joinDir, "output"))
	dataDir := utils.EnvString("JOIN_DATA_DIR", filepath.Join(joinDir, "data"))
	l.Debug("config_dirs", "api_base", apiBase, "output", outDir, "data", dataDir)

	reg := dataset.NewRegistry(outDir, dataDir, profile.Default())
	if err := reg.Reload(); err != nil {
		l.Error("dataset_scan_error", "err", err)
		os.Exit(1)
	}
	if err := reg.Watch(ctx); err != nil {
		l.Warn("dataset_watch_disabled", "err", err)
		reg.Poll(ctx, utils.EnvSeconds("DATASET_POLL_S", 30*time.Second))
	} else {
		reg.Poll(ctx, utils.EnvSeconds("DATASET_POLL_S", 0))
	}
	l.Info("datasets_ready", "count", len(reg.List()))

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(ctx).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
	} else {
		l.Info("redis_ping_ok")
	}

	var st api.RunStore
	if utils.EnvBool("PG_ENABLE") {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st = store.AttachDB(db)
	} else {
		l.Info("db_disabled")
	}

	qs := query.NewService(reg, rc, query.ConfigFromEnv())
	apiMux := api.BuildRoutes(api.Deps{
		Datasets:  reg,
		Queries:   qs,
		Store:     st,
		MaxParams: utils.EnvInt("QUERY_MAX_PARAMS", 32),
	})

	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	// 可选：前端静态文件；向前端暴露 API 基础路径，避免硬编码
	if ui := os.Getenv("UI_DIST"); ui != "" {
		mux.Handle("/", http.FileServer(http.Dir(ui)))
		mux.HandleFunc("GET /config.js", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("content-type", "application/javascript; charset=utf-8")
			w.Header().Set("cache-control", "no-store")
			_, _ = w.Write([]byte("window.__API_BASE__='" + apiBase + "'\n"))
		})
	}

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	addr := utils.EnvString("ADDR", ":8080")
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()
	l.Info("listening", "addr", addr, "api_base", apiBase)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	qs.Wait()
	l.Info("shutdown_done")
}
