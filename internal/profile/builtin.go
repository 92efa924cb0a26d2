package profile

import "strings"

// DefaultCanonicalField：NHGIS 统一连接键字段
const DefaultCanonicalField = "GISJOIN"

// NHGIS 表格中与连接无关的描述列
var nhgisExtraneous = []string{
	"YEAR", "REGIONA", "DIVISIONA", "STATE", "STATEA", "COUNTY", "COUSUBA", "PLACEA", "TRACTA",
	"BLKGRPA", "BLOCKA", "CONCITA", "AIANHHA", "RES_ONLYA", "TRUSTA", "AITSCEA", "TTRACTA", "TBLKGRPA", "ANRCA",
	"CBSAA", "METDIVA", "CSAA", "NECTAA", "NECTADIVA", "CNECTAA", "UAA", "URBRURALA", "CDA", "SLDUA", "SLDLA",
	"ZCTA5A", "SUBMCDA", "SDELMA", "SDSECA", "SDUNIA", "NAME", "SABINSA",
	"CDCURRA", "PUMA5A", "BTTRA", "BTBGA", "NAME_E",
}

// Part：合成规则中的一段（字段名 + 固定宽度）
type Part struct {
	Field string
	Width int
}

// GISJOINRule：NHGIS 风格合成规则 G{州}0{县}0{普查区}{末级}
// 背景：NHGIS 在州码与县码之后各插入一位 0；各段按固定宽度左侧补零。
func GISJOINRule(state, county, tract, unit Part) KeyFunc {
	return func(props map[string]any) (string, error) {
		var b strings.Builder
		b.WriteByte('G')
		for i, p := range []Part{state, county, tract, unit} {
			v := scalar(props[p.Field])
			if v == "" {
				return "", &SchemaError{Field: p.Field, Reason: "missing key component"}
			}
			b.WriteString(pad(v, p.Width))
			if i < 2 {
				b.WriteByte('0')
			}
		}
		return b.String(), nil
	}
}

func pad(v string, width int) string {
	if len(v) >= width {
		return v
	}
	return strings.Repeat("0", width-len(v)) + v
}

// Builtin：内置档案（2010 街区、2017 街区组）
func Builtin() []*Profile {
	return []*Profile{
		{
			ID:              "block_2010",
			CanonicalField:  DefaultCanonicalField,
			CensusKeyFields: []string{"GEOID10", "GEOID"},
			Denylist:        nhgisExtraneous,
			Synthesize: GISJOINRule(
				Part{"STATEFP10", 2}, Part{"COUNTYFP10", 3}, Part{"TRACTCE10", 6}, Part{"BLOCKCE10", 4},
			),
		},
		{
			ID:              "blck_grp_2017",
			CanonicalField:  DefaultCanonicalField,
			CensusKeyFields: []string{"GEOID", "GEOID10"},
			Denylist:        nhgisExtraneous,
			Synthesize: GISJOINRule(
				Part{"STATEFP", 2}, Part{"COUNTYFP", 3}, Part{"TRACTCE", 6}, Part{"BLKGRPCE", 1},
			),
		},
	}
}

// Default：预注册内置档案的注册表
// 异常：内置档案注册失败属于程序错误，直接 panic
func Default() *Registry {
	r := NewRegistry()
	for _, p := range Builtin() {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}
