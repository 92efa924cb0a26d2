// 包 profile：地理层级档案注册表，负责从边界要素属性推导统一连接键（GISJOIN）
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KeyFunc：由普查字段合成统一连接键
type KeyFunc func(props map[string]any) (string, error)

// 文档注释：地理层级档案
// 背景：不同层级（街区/街区组）使用不同的普查字段组合与列删除表；新增层级只需注册档案，不改动核心逻辑。
// 约束：Synthesize 必填；CensusKeyFields 按优先级排列，取第一个非空值。
type Profile struct {
	ID              string
	CanonicalField  string
	CensusKeyFields []string
	Denylist        []string
	Synthesize      KeyFunc
}

// Canonical：推导统一连接键
// 约束：优先使用直接键字段；否则存在普查字段时按档案规则合成；两者皆无视为 SchemaError。
func (p *Profile) Canonical(props map[string]any) (string, error) {
	if v := scalar(props[p.CanonicalField]); v != "" {
		return v, nil
	}
	if _, ok := p.CensusKey(props); ok {
		return p.Synthesize(props)
	}
	return "", &SchemaError{Field: p.CanonicalField, Reason: "neither canonical key nor census identifier present"}
}

// CensusKey：返回普查标识（差异比对阶段使用）
func (p *Profile) CensusKey(props map[string]any) (string, bool) {
	for _, f := range p.CensusKeyFields {
		if v := scalar(props[f]); v != "" {
			return v, true
		}
	}
	return "", false
}

// HasCanonical：记录是否直接携带统一连接键
func (p *Profile) HasCanonical(props map[string]any) bool {
	return scalar(props[p.CanonicalField]) != ""
}

// Registry：档案注册表（线程安全）
type Registry struct {
	mu sync.RWMutex
	ps map[string]*Profile
}

func NewRegistry() *Registry {
	return &Registry{ps: make(map[string]*Profile)}
}

// Register：注册档案
// 约束：缺少合成规则的档案拒绝注册，否则差异集无法从普查键空间换算到统一键空间。
func (r *Registry) Register(p *Profile) error {
	if p == nil || p.ID == "" {
		return errors.New("profile id required")
	}
	if p.Synthesize == nil {
		return fmt.Errorf("profile %s: synthesis rule required", p.ID)
	}
	if len(p.CensusKeyFields) == 0 {
		return fmt.Errorf("profile %s: census key fields required", p.ID)
	}
	if p.CanonicalField == "" {
		p.CanonicalField = DefaultCanonicalField
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ps[p.ID]; ok {
		return fmt.Errorf("profile %s already registered", p.ID)
	}
	r.ps[p.ID] = p
	return nil
}

// Lookup：按地理名称查找档案
// 背景：批处理以 "FL_block_2010" 形式命名，先精确匹配，再去掉两字母州前缀匹配层级档案。
func (r *Registry) Lookup(id string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.ps[id]; ok {
		return p, nil
	}
	if i := strings.IndexByte(id, '_'); i == 2 {
		if p, ok := r.ps[id[i+1:]]; ok {
			return p, nil
		}
	}
	return nil, &UnknownProfileError{ID: id}
}

// IDs：已注册档案列表（排序）
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ps))
	for id := range r.ps {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// scalar：属性值的文本形式；非标量返回空
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return fmt.Sprintf("%.0f", x)
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	default:
		return ""
	}
}
