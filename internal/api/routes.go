// 包 api：集中注册 HTTP API 路由以解耦主入口，挂载在 API_BASE（默认 /data）之下
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"geojoin/internal/dataset"
	"geojoin/internal/geo"
	"geojoin/internal/logger"
	"geojoin/internal/metrics"
	"geojoin/internal/query"
)

const geoJSONType = "application/geo+json; charset=utf-8"

// flushEvery：流式响应每写出多少个要素刷新一次
const flushEvery = 256

// BuildRoutes：构建并返回 API 路由
func BuildRoutes(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /join/{dataset}", d.join)
	mux.HandleFunc("GET /shape/{dataset}", d.shape)
	mux.HandleFunc("GET /json/{dataset}", d.tabular)
	mux.HandleFunc("GET /datasets", d.datasets)
	mux.HandleFunc("GET /runs", d.runs)
	mux.HandleFunc("GET /stats", d.stats)
	return mux
}

// 文档注释：过滤查询
// 约束：尚未写出任何字节时按错误类型返回 400/404/500；已开始流式输出后出错只能中断连接。
func (d Deps) join(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := query.ParseRequest(r.PathValue("dataset"), r.URL.RawQuery, d.MaxParams)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("content-type", geoJSONType)
	gw := geo.NewWriter(w)
	emit := streamer(w, gw)
	outcome, err := d.Queries.Query(r.Context(), req, emit)
	if err != nil {
		abort(w, r, gw, err)
		return
	}
	if err := gw.Close(); err != nil {
		return
	}
	metrics.QueryRequestsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.QueryDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	logger.L().Debug("query_done", "sig", req.Signature(), "outcome", outcome, "features", gw.Count(),
		"duration_ms", time.Since(start).Milliseconds())
	if d.Store != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		defer cancel()
		if err := d.Store.IncrQueryStats(ctx, req.Dataset, outcome == query.OutcomeHit); err != nil {
			logger.L().Warn("query_stats_error", "dataset", req.Dataset, "err", err)
		}
	}
}

// 文档注释：按 GISJOIN 返回边界几何
func (d Deps) shape(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dataset")
	keys := r.URL.Query()["GISJOIN"]
	if !dataset.ValidID(id) || len(keys) == 0 {
		writeError(w, &query.ValidationError{Reason: "dataset and GISJOIN required"})
		return
	}
	w.Header().Set("content-type", geoJSONType)
	gw := geo.NewWriter(w)
	if err := d.Queries.Shapes(r.Context(), id, keys, streamer(w, gw)); err != nil {
		abort(w, r, gw, err)
		return
	}
	_ = gw.Close()
}

// 文档注释：按 GISJOIN 返回表格数据中的指定列
func (d Deps) tabular(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dataset")
	q := r.URL.Query()
	keys, props := q["GISJOIN"], q["props"]
	if !dataset.ValidID(id) || len(keys) == 0 || len(props) == 0 {
		writeError(w, &query.ValidationError{Reason: "dataset, GISJOIN and props required"})
		return
	}
	out, err := d.Queries.Tabular(r.Context(), id, keys, props)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out)
}

func (d Deps) datasets(w http.ResponseWriter, r *http.Request) {
	list := d.Datasets.List()
	out := make([]datasetView, 0, len(list))
	for _, ds := range list {
		out = append(out, datasetView{ID: ds.ID, Profile: ds.Profile, KeyField: ds.KeyField, Size: ds.Size, Generation: ds.Generation})
	}
	writeJSON(w, out)
}

func (d Deps) runs(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		http.Error(w, "run store disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := d.Store.ListRuns(r.Context(), r.URL.Query().Get("geography"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, runs)
}

func (d Deps) stats(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		http.Error(w, "run store disabled", http.StatusNotFound)
		return
	}
	t, err := d.Store.GetTotals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, t)
}

// streamer：把要素写入集合并周期性刷新
func streamer(w http.ResponseWriter, gw *geo.Writer) func([]byte) error {
	rc := http.NewResponseController(w)
	return func(b []byte) error {
		if err := gw.WriteRaw(b); err != nil {
			return err
		}
		if gw.Count()%flushEvery == 0 {
			_ = rc.Flush()
		}
		return nil
	}
}

// abort：流式输出中的失败处理
func abort(w http.ResponseWriter, r *http.Request, gw *geo.Writer, err error) {
	if r.Context().Err() != nil {
		metrics.QueryErrorsTotal.WithLabelValues("aborted").Inc()
		return
	}
	if !gw.Opened() {
		writeError(w, err)
		return
	}
	metrics.QueryErrorsTotal.WithLabelValues("aborted").Inc()
	logger.L().Error("stream_aborted", "path", r.URL.Path, "features", gw.Count(), "err", err)
	panic(http.ErrAbortHandler)
}

// writeError：错误类型到状态码的映射
func writeError(w http.ResponseWriter, err error) {
	var ve *query.ValidationError
	switch {
	case errors.As(err, &ve):
		metrics.QueryErrorsTotal.WithLabelValues("validation").Inc()
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, query.ErrNotFound):
		metrics.QueryErrorsTotal.WithLabelValues("not_found").Inc()
		http.Error(w, "dataset not found", http.StatusNotFound)
	default:
		metrics.QueryErrorsTotal.WithLabelValues("scan").Inc()
		logger.L().Error("request_error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
