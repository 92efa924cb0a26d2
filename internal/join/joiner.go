package join

import (
	"context"

	"geojoin/internal/geo"
	"geojoin/internal/profile"
)

// JoinStats：连接阶段计数
type JoinStats struct {
	DataRows        int
	Shapes          int
	Joins           int
	ExcludedRows    int
	ExcludedShapes  int
	RowOverwrites   int
	ShapeOverwrites int
	DuplicateRows   int
	DuplicateShapes int
	UnmatchedRows   int
	UnmatchedShapes int
}

// Residuals：连接结束后仍未匹配的行与边界（仅诊断用途）
type Residuals struct {
	Header *Projection
	Rows   map[string][]string
	Shapes map[string]*geo.Feature
}

// joiner：连接状态（仅由消费者协程访问）
// 约束：joined 只保存已写出的键，后续同键记录直接丢弃，保证每个键最多写出一次。
type joiner struct {
	p      *profile.Profile
	excl   ExclusionSet
	proj   *Projection
	rows   map[string][]string
	shapes map[string]*geo.Feature
	joined map[string]struct{}
	emit   func(*geo.Feature) error
	stats  JoinStats
	seen   int
	opts   Options
}

func newJoiner(p *profile.Profile, excl ExclusionSet, emit func(*geo.Feature) error, opts Options) *joiner {
	return &joiner{
		p:      p,
		excl:   excl,
		rows:   make(map[string][]string),
		shapes: make(map[string]*geo.Feature),
		joined: make(map[string]struct{}),
		emit:   emit,
		opts:   opts,
	}
}

func (j *joiner) add(it item) error {
	var err error
	if it.row != nil {
		err = j.addRow(it.row)
	} else {
		err = j.addShape(it.feature)
	}
	if err != nil {
		return err
	}
	j.seen++
	if j.opts.ProgressEvery > 0 && j.seen%j.opts.ProgressEvery == 0 {
		j.opts.log().Info("join_progress",
			"data_rows", j.stats.DataRows,
			"shapes", j.stats.Shapes,
			"joins", j.stats.Joins,
			"pending_rows", len(j.rows),
			"pending_shapes", len(j.shapes),
		)
	}
	return nil
}

func (j *joiner) addRow(row []string) error {
	if j.proj == nil {
		j.proj = NewProjection(row, j.p.Denylist)
		j.opts.log().Debug("join_header", "columns", len(row), "kept", j.proj.Names())
		return nil
	}
	j.stats.DataRows++
	if len(row) == 0 || row[0] == "" {
		return &profile.SchemaError{Field: "column 0", Reason: "data row missing join key"}
	}
	key := row[0]
	if j.excl.Has(key) {
		j.stats.ExcludedRows++
		return nil
	}
	if _, done := j.joined[key]; done {
		j.stats.DuplicateRows++
		j.opts.log().Debug("join_duplicate_row", "key", key)
		return nil
	}
	if f, ok := j.shapes[key]; ok {
		delete(j.shapes, key)
		return j.merge(key, f, row)
	}
	if _, dup := j.rows[key]; dup {
		j.stats.RowOverwrites++
		j.opts.log().Debug("join_pending_row_overwrite", "key", key)
	}
	j.rows[key] = row
	return nil
}

func (j *joiner) addShape(f *geo.Feature) error {
	j.stats.Shapes++
	if len(f.Properties) == 0 {
		return &profile.SchemaError{Reason: "feature missing properties"}
	}
	key, err := j.p.Canonical(f.Properties)
	if err != nil {
		return err
	}
	// 排除集中的边界永远不会有对应行，直接丢弃以免占用缓存
	if j.excl.Has(key) {
		j.stats.ExcludedShapes++
		return nil
	}
	if _, done := j.joined[key]; done {
		j.stats.DuplicateShapes++
		j.opts.log().Debug("join_duplicate_shape", "key", key)
		return nil
	}
	if row, ok := j.rows[key]; ok {
		delete(j.rows, key)
		return j.merge(key, f, row)
	}
	if _, dup := j.shapes[key]; dup {
		j.stats.ShapeOverwrites++
		j.opts.log().Debug("join_pending_shape_overwrite", "key", key)
	}
	j.shapes[key] = f
	return nil
}

// merge：边界属性与行属性取并集（同名以行值为准），立即写出
func (j *joiner) merge(key string, f *geo.Feature, row []string) error {
	out := f.Clone()
	if out.Properties == nil {
		out.Properties = make(map[string]any)
	}
	for k, v := range j.proj.Project(row) {
		out.Properties[k] = v
	}
	j.joined[key] = struct{}{}
	j.stats.Joins++
	return j.emit(out)
}

// 文档注释：表格与外部边界的流式外连接
// 背景：两路输入无序到达，先到者缓存，后到者命中即合并写出并释放缓存；排除集内的键直接丢弃。
// 约束：每个键最多写出一次；excl 只读；结束时的残留不影响正确性，按需返回用于诊断。
func Join(ctx context.Context, p *profile.Profile, excl ExclusionSet, data, external Opener, emit func(*geo.Feature) error, opts Options) (*JoinStats, *Residuals, error) {
	j := newJoiner(p, excl, emit, opts)
	err := consume(ctx, []producer{
		rowSource("data table", data),
		featureSource("external boundaries", external),
	}, j.add)
	if err != nil {
		return nil, nil, err
	}
	j.stats.UnmatchedRows = len(j.rows)
	j.stats.UnmatchedShapes = len(j.shapes)
	opts.log().Info("join_pass_done",
		"data_rows", j.stats.DataRows,
		"shapes", j.stats.Shapes,
		"joins", j.stats.Joins,
		"excluded_rows", j.stats.ExcludedRows,
		"duplicate_rows", j.stats.DuplicateRows,
		"duplicate_shapes", j.stats.DuplicateShapes,
		"unmatched_rows", j.stats.UnmatchedRows,
		"unmatched_shapes", j.stats.UnmatchedShapes,
	)
	var res *Residuals
	if opts.KeepResiduals {
		res = &Residuals{Header: j.proj, Rows: j.rows, Shapes: j.shapes}
	}
	return &j.stats, res, nil
}
