package geo

import (
	"encoding/json"
	"io"
)

const (
	collectionOpen  = `{"type":"FeatureCollection","features":[`
	collectionClose = "]}\n"
)

// 文档注释：要素集合流式写出器
// 背景：连接结果与查询响应均逐个写出，不在内存中拼装整个集合。
// 约束：集合头在首次写入或 Close 时才落盘，便于调用方在未写出任何字节前改发错误状态码。
type Writer struct {
	w      io.Writer
	opened bool
	n      int
	err    error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (cw *Writer) open() {
	if cw.opened || cw.err != nil {
		return
	}
	cw.opened = true
	_, cw.err = io.WriteString(cw.w, collectionOpen)
}

// WriteRaw：写出已编码的要素
func (cw *Writer) WriteRaw(raw []byte) error {
	cw.open()
	if cw.err != nil {
		return cw.err
	}
	if cw.n > 0 {
		if _, cw.err = io.WriteString(cw.w, ","); cw.err != nil {
			return cw.err
		}
	}
	if _, cw.err = cw.w.Write(raw); cw.err != nil {
		return cw.err
	}
	cw.n++
	return nil
}

// Write：编码并写出要素
func (cw *Writer) Write(f *Feature) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return cw.WriteRaw(b)
}

// Opened：是否已写出集合头
func (cw *Writer) Opened() bool { return cw.opened }

// Count：已写出的要素数
func (cw *Writer) Count() int { return cw.n }

// Close：写出集合尾（空集合同样输出完整结构）
func (cw *Writer) Close() error {
	cw.open()
	if cw.err != nil {
		return cw.err
	}
	_, cw.err = io.WriteString(cw.w, collectionClose)
	return cw.err
}
