// 包 geo：GeoJSON FeatureCollection 的增量读写
package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/xerrors"
)

// ErrNotCollection：输入不是 JSON 对象或缺少 features 数组
var ErrNotCollection = errors.New("geojson: not a feature collection")

// 文档注释：要素集合流式读取器
// 背景：边界文件可达数 GB，逐个要素解码，内存只与单个要素大小相关。
// 约束：features 键可出现在对象任意位置，其他顶层键被跳过；读完后 Next 返回 io.EOF。
type Reader struct {
	dec     *json.Decoder
	started bool
	done    bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

// seek：定位到 features 数组内部
func (r *Reader) seek() error {
	tok, err := r.dec.Token()
	if err != nil {
		return xerrors.Errorf("geojson: read collection start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ErrNotCollection
	}
	for r.dec.More() {
		tok, err = r.dec.Token()
		if err != nil {
			return xerrors.Errorf("geojson: read key: %w", err)
		}
		key, _ := tok.(string)
		if key != "features" {
			var skip json.RawMessage
			if err := r.dec.Decode(&skip); err != nil {
				return xerrors.Errorf("geojson: skip %q: %w", key, err)
			}
			continue
		}
		tok, err = r.dec.Token()
		if err != nil {
			return xerrors.Errorf("geojson: read features: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return ErrNotCollection
		}
		return nil
	}
	return ErrNotCollection
}

// NextRaw：读取下一个要素的原始字节
func (r *Reader) NextRaw() (json.RawMessage, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.seek(); err != nil {
			r.done = true
			return nil, err
		}
	}
	if !r.dec.More() {
		r.done = true
		// 结束符 ']'；其后的顶层键不再关心
		if _, err := r.dec.Token(); err != nil {
			return nil, xerrors.Errorf("geojson: close features: %w", err)
		}
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		r.done = true
		return nil, xerrors.Errorf("geojson: decode feature: %w", err)
	}
	return raw, nil
}

// Next：读取并解析下一个要素
func (r *Reader) Next() (*Feature, error) {
	raw, err := r.NextRaw()
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

func unmarshalNumber(raw []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d.Decode(v)
}
