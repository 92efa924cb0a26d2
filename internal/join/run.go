package join

import (
	"context"
	"io"
	"sort"
	"time"

	"geojoin/internal/geo"
	"geojoin/internal/profile"

	"golang.org/x/xerrors"
)

// Inputs：一次批处理的三路输入
type Inputs struct {
	Census   Opener
	External Opener
	Data     Opener
}

// Result：批处理结果
type Result struct {
	Profile   string
	Diff      DiffStats
	Join      JoinStats
	Excluded  int
	Duration  time.Duration
	Residuals *Residuals
}

// 文档注释：执行一次完整批处理（差异比对 → 连接）
// 背景：差异阶段是硬屏障，排除集必须完整驻留后才开始连接；外部边界文件因此被读取两次。
// 异常：任何读写或结构错误立即中止，不保证 out 中已写出内容完整。
func Run(ctx context.Context, p *profile.Profile, in Inputs, out io.Writer, opts Options) (*Result, error) {
	start := time.Now()
	excl, ds, err := Diff(ctx, p, in.Census, in.External, opts)
	if err != nil {
		return nil, xerrors.Errorf("diff pass: %w", err)
	}
	w := geo.NewWriter(out)
	js, res, err := Join(ctx, p, excl, in.Data, in.External, w.Write, opts)
	if err != nil {
		return nil, xerrors.Errorf("join pass: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, xerrors.Errorf("write output: %w", err)
	}
	return &Result{
		Profile:   p.ID,
		Diff:      *ds,
		Join:      *js,
		Excluded:  len(excl),
		Duration:  time.Since(start),
		Residuals: res,
	}, nil
}

// WriteResidualRows：未匹配的数据行以要素集合输出（无几何）
func WriteResidualRows(w io.Writer, canonicalField string, res *Residuals) error {
	cw := geo.NewWriter(w)
	for _, key := range sortedKeys(res.Rows) {
		props := map[string]any{}
		if res.Header != nil {
			props = res.Header.Project(res.Rows[key])
		}
		props[canonicalField] = key
		if err := cw.Write(&geo.Feature{Type: "Feature", Properties: props}); err != nil {
			return err
		}
	}
	return cw.Close()
}

// WriteResidualShapes：未匹配的边界原样输出
func WriteResidualShapes(w io.Writer, res *Residuals) error {
	cw := geo.NewWriter(w)
	for _, key := range sortedKeys(res.Shapes) {
		if err := cw.Write(res.Shapes[key]); err != nil {
			return err
		}
	}
	return cw.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
