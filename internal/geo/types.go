package geo

import "encoding/json"

// 文档注释：GeoJSON 要素的最小结构
// 背景：几何保持原始字节，连接与查询只读写属性，避免反复解析坐标数组。
// 约束：属性数值以 json.Number 保存文本形式，保证键合成与等值过滤不受浮点格式影响。
type Feature struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// Clone：复制要素外壳与属性表，几何字节共享（只读）
func (f *Feature) Clone() *Feature {
	out := &Feature{Type: f.Type, ID: f.ID, Geometry: f.Geometry}
	if f.Properties != nil {
		out.Properties = make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

// Decode：解析单个要素字节
func Decode(raw []byte) (*Feature, error) {
	var f Feature
	if err := unmarshalNumber(raw, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		f.Type = "Feature"
	}
	return &f, nil
}

// Scalar：属性值的文本形式，用于等值比较；对象/数组/空值返回 false
func Scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}
