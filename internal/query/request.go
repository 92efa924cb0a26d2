// 包 query：连接结果的等值过滤与按请求签名缓存
package query

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"geojoin/internal/dataset"
)

// ErrNotFound：数据集未注册
var ErrNotFound = errors.New("dataset not found")

// ValidationError：请求参数缺失或格式错误（在访问数据集之前返回）
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Predicate：等值过滤条件；Value 为空表示仅输出该属性（pass-through）
type Predicate struct {
	Name  string
	Value string
}

// Request：一次过滤查询
type Request struct {
	Dataset string
	Filters []Predicate
	Outputs []string
}

// 文档注释：解析查询字符串
// 背景：保留参数原始顺序；"name=value" 为过滤条件，"name" 与 "name=" 为输出属性。
// 约束：空名称、重复名称、参数数量超过 maxParams（>0 时生效）与非法数据集标识均返回 ValidationError。
func ParseRequest(datasetID, rawQuery string, maxParams int) (*Request, error) {
	if !dataset.ValidID(datasetID) {
		return nil, invalid("malformed dataset id %q", datasetID)
	}
	req := &Request{Dataset: datasetID}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		rawName, rawValue, _ := strings.Cut(part, "=")
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			return nil, invalid("malformed parameter name %q", rawName)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, invalid("malformed value for %q", name)
		}
		if name == "" {
			return nil, invalid("empty parameter name")
		}
		if _, dup := seen[name]; dup {
			return nil, invalid("parameter %q repeated", name)
		}
		seen[name] = struct{}{}
		if maxParams > 0 && len(seen) > maxParams {
			return nil, invalid("more than %d parameters", maxParams)
		}
		if value == "" {
			req.Outputs = append(req.Outputs, name)
		} else {
			req.Filters = append(req.Filters, Predicate{Name: name, Value: value})
		}
	}
	return req, nil
}

// 文档注释：请求签名（缓存键）
// 约束：按名称排序，名称相同时按值排序，得到全序；名称与值经 QueryEscape，保证不同请求不会拼出同一签名。
func (r *Request) Signature() string {
	parts := make([]Predicate, 0, len(r.Filters)+len(r.Outputs))
	parts = append(parts, r.Filters...)
	for _, n := range r.Outputs {
		parts = append(parts, Predicate{Name: n})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Name != parts[j].Name {
			return parts[i].Name < parts[j].Name
		}
		return parts[i].Value < parts[j].Value
	})
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(r.Dataset)
	b.WriteString("?")
	for i, p := range parts {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(url.QueryEscape(p.Name))
		if p.Value != "" {
			b.WriteString("=")
			b.WriteString(url.QueryEscape(p.Value))
		}
	}
	return b.String()
}
