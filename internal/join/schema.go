package join

// 文档注释：表头投影
// 背景：删除无关列但保持原始列下标，行值直接按原下标取用，不需要重排。
// 约束：被删除的位置保存空名；表头以外的多余单元格忽略，缺失的尾部单元格跳过。
type Projection struct {
	names []string
}

func NewProjection(header []string, denylist []string) *Projection {
	deny := make(map[string]struct{}, len(denylist))
	for _, n := range denylist {
		deny[n] = struct{}{}
	}
	names := make([]string, len(header))
	for i, n := range header {
		if _, drop := deny[n]; drop {
			continue
		}
		names[i] = n
	}
	return &Projection{names: names}
}

// Names：保留列（按原顺序）
func (p *Projection) Names() []string {
	out := make([]string, 0, len(p.names))
	for _, n := range p.names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Project：按保留列构建属性表
func (p *Projection) Project(row []string) map[string]any {
	props := make(map[string]any, len(p.names))
	for i, n := range p.names {
		if n == "" || i >= len(row) {
			continue
		}
		props[n] = row[i]
	}
	return props
}
