package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojoin_query_requests_total",
		Help: "Total number of filter queries by cache outcome (hit, shared, miss)",
	}, []string{"outcome"})
	QueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geojoin_query_duration_ms",
		Help:    "Filter query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	})
	QueryFeaturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geojoin_query_features_total",
		Help: "Total features streamed to query clients",
	})
	QueryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geojoin_query_errors_total",
		Help: "Query failures by kind (validation, not_found, scan, aborted)",
	}, []string{"kind"})
	ScansInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geojoin_scans_inflight",
		Help: "Dataset scans currently running",
	})
	ScanAbandonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geojoin_scan_abandoned_total",
		Help: "Scans cancelled because every consumer detached",
	})
	RedisHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geojoin_redis_hits_total",
		Help: "Total redis warm-tier hits",
	})
	RedisMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geojoin_redis_misses_total",
		Help: "Total redis warm-tier misses",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geojoin_rate_limited_total",
		Help: "Requests rejected by the token bucket",
	})
	DatasetsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geojoin_datasets_loaded",
		Help: "Joined datasets currently visible to the query service",
	})
)

func init() {
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(QueryFeaturesTotal)
	prometheus.MustRegister(QueryErrorsTotal)
	prometheus.MustRegister(ScansInflight)
	prometheus.MustRegister(ScanAbandonedTotal)
	prometheus.MustRegister(RedisHitsTotal)
	prometheus.MustRegister(RedisMissesTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(DatasetsLoaded)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
