package join

import (
	"context"
	"log/slog"

	"geojoin/internal/geo"
	"geojoin/internal/logger"
	"geojoin/internal/profile"
)

// ExclusionSet：只在一个边界来源中出现的单元（统一键空间），计算完成后只读
type ExclusionSet map[string]struct{}

func (s ExclusionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// DiffStats：差异比对计数
type DiffStats struct {
	Records          int
	Census           int
	External         int
	Matched          int
	Overwrites       int
	Duplicates       int
	ResidualCensus   int
	ResidualExternal int
}

// Options：批处理参数
type Options struct {
	// ProgressEvery：每处理多少条记录输出一次进度日志，<=0 时关闭
	ProgressEvery int
	// KeepResiduals：保留连接阶段未匹配的行与边界，用于诊断输出
	KeepResiduals bool
	Logger        *slog.Logger
}

func (o Options) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logger.L()
}

// differ：差异比对状态（仅由消费者协程访问）
// 约束：matched 只保存已配对的普查键；配对后再出现的同键记录丢弃，不进入排除集。
type differ struct {
	p       *profile.Profile
	pending [2]map[string]*geo.Feature
	matched map[string]struct{}
	stats   DiffStats
	opts    Options
}

func newDiffer(p *profile.Profile, opts Options) *differ {
	return &differ{
		p:       p,
		pending: [2]map[string]*geo.Feature{make(map[string]*geo.Feature), make(map[string]*geo.Feature)},
		matched: make(map[string]struct{}),
		opts:    opts,
	}
}

// add：对侧缓存存在同一普查键即视为两源共有，立即删除；否则缓存本条
func (d *differ) add(f *geo.Feature) error {
	b, err := classify(d.p, f)
	if err != nil {
		return err
	}
	d.stats.Records++
	if b.src == SourceExternal {
		d.stats.External++
	} else {
		d.stats.Census++
	}
	other := d.pending[1-b.src]
	if _, done := d.matched[b.key]; done {
		d.stats.Duplicates++
		d.opts.log().Debug("diff_duplicate", "source", b.src.String(), "key", b.key)
	} else if _, ok := other[b.key]; ok {
		delete(other, b.key)
		d.matched[b.key] = struct{}{}
		d.stats.Matched++
	} else {
		mine := d.pending[b.src]
		if _, dup := mine[b.key]; dup {
			d.stats.Overwrites++
			d.opts.log().Debug("diff_pending_overwrite", "source", b.src.String(), "key", b.key)
		}
		mine[b.key] = b.f
	}
	if d.opts.ProgressEvery > 0 && d.stats.Records%d.opts.ProgressEvery == 0 {
		d.opts.log().Info("diff_progress",
			"records", d.stats.Records,
			"pending_census", len(d.pending[SourceCensus]),
			"pending_external", len(d.pending[SourceExternal]),
			"matched", d.stats.Matched,
		)
	}
	return nil
}

// finish：残留记录换算为统一键，构成排除集
func (d *differ) finish() (ExclusionSet, error) {
	d.stats.ResidualCensus = len(d.pending[SourceCensus])
	d.stats.ResidualExternal = len(d.pending[SourceExternal])
	out := make(ExclusionSet, d.stats.ResidualCensus+d.stats.ResidualExternal)
	for _, buf := range d.pending {
		for _, f := range buf {
			key, err := d.p.Canonical(f.Properties)
			if err != nil {
				return nil, err
			}
			out[key] = struct{}{}
		}
	}
	d.pending = [2]map[string]*geo.Feature{}
	d.matched = nil
	return out, nil
}

// 文档注释：边界差异比对
// 背景：普查与 NHGIS 边界合并为一个无序流，按普查键配对；只在一侧出现的单元（如纯水域）进入排除集。
// 约束：单遍读取；内存上限为未配对记录数；必须完整结束后才能开始连接阶段。
func Diff(ctx context.Context, p *profile.Profile, census, external Opener, opts Options) (ExclusionSet, *DiffStats, error) {
	d := newDiffer(p, opts)
	err := consume(ctx, []producer{
		featureSource("census boundaries", census),
		featureSource("external boundaries", external),
	}, func(it item) error { return d.add(it.feature) })
	if err != nil {
		return nil, nil, err
	}
	excl, err := d.finish()
	if err != nil {
		return nil, nil, err
	}
	opts.log().Info("diff_done",
		"records", d.stats.Records,
		"matched", d.stats.Matched,
		"duplicates", d.stats.Duplicates,
		"residual_census", d.stats.ResidualCensus,
		"residual_external", d.stats.ResidualExternal,
		"excluded", len(excl),
	)
	return excl, &d.stats, nil
}
