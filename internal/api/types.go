package api

import (
	"context"

	"geojoin/internal/dataset"
	"geojoin/internal/query"
	"geojoin/internal/store"
)

// Datasets：数据集列表（dataset.Registry 实现）
type Datasets interface {
	List() []dataset.Dataset
}

// Queries：过滤查询与按键查找（query.Service 实现）
type Queries interface {
	Query(ctx context.Context, req *query.Request, emit func([]byte) error) (query.Outcome, error)
	Shapes(ctx context.Context, datasetID string, keys []string, emit func([]byte) error) error
	Tabular(ctx context.Context, datasetID string, keys, props []string) (map[string]map[string]string, error)
}

// RunStore：运行记录与查询统计（store.Store 实现）；未启用时为 nil
type RunStore interface {
	ListRuns(ctx context.Context, geography string, limit int) ([]store.Run, error)
	IncrQueryStats(ctx context.Context, dataset string, hit bool) error
	GetTotals(ctx context.Context) ([]store.Totals, error)
}

// Deps：路由依赖
type Deps struct {
	Datasets  Datasets
	Queries   Queries
	Store     RunStore
	MaxParams int
}

// datasetView：/datasets 返回结构
type datasetView struct {
	ID         string `json:"id"`
	Profile    string `json:"profile,omitempty"`
	KeyField   string `json:"key_field"`
	Size       int64  `json:"size"`
	Generation int64  `json:"generation"`
}
