package query

import (
	"encoding/json"

	"geojoin/internal/geo"

	"golang.org/x/xerrors"
)

// 文档注释：对单个要素执行过滤与投影
// 约束：所有过滤条件取合取，比较属性标量值的文本形式；未指定输出属性时原样返回要素字节。
func match(raw json.RawMessage, req *Request, keyField string) ([]byte, bool, error) {
	f, err := geo.Decode(raw)
	if err != nil {
		return nil, false, xerrors.Errorf("decode feature: %w", err)
	}
	for _, p := range req.Filters {
		v, ok := geo.Scalar(f.Properties[p.Name])
		if !ok || v != p.Value {
			return nil, false, nil
		}
	}
	if len(req.Outputs) == 0 {
		return raw, true, nil
	}
	props := make(map[string]any, len(req.Outputs)+len(req.Filters)+1)
	for _, n := range req.Outputs {
		if v, ok := f.Properties[n]; ok {
			props[n] = v
		}
	}
	for _, p := range req.Filters {
		props[p.Name] = p.Value
	}
	if v, ok := f.Properties[keyField]; ok {
		props[keyField] = v
	}
	f.Properties = props
	out, err := json.Marshal(f)
	if err != nil {
		return nil, false, xerrors.Errorf("encode feature: %w", err)
	}
	return out, true, nil
}
