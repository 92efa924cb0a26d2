package profile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPrefersDirectKey(t *testing.T) {
	r := Default()
	p, err := r.Lookup("FL_block_2010")
	require.NoError(t, err)

	key, err := p.Canonical(map[string]any{"GISJOIN": "G1200010000200001000", "GEOID10": "120010002001000"})
	require.NoError(t, err)
	assert.Equal(t, "G1200010000200001000", key)
}

func TestCanonicalSynthesizesBlock(t *testing.T) {
	p, err := Default().Lookup("block_2010")
	require.NoError(t, err)

	key, err := p.Canonical(map[string]any{
		"GEOID10":    "120010002001000",
		"STATEFP10":  "12",
		"COUNTYFP10": "001",
		"TRACTCE10":  "000200",
		"BLOCKCE10":  "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, "G12000100002001000", key)
}

func TestCanonicalPadsNumericComponents(t *testing.T) {
	p, err := Default().Lookup("GA_blck_grp_2017")
	require.NoError(t, err)

	key, err := p.Canonical(map[string]any{
		"GEOID":    "130010001001",
		"STATEFP":  json.Number("13"),
		"COUNTYFP": json.Number("1"),
		"TRACTCE":  "100",
		"BLKGRPCE": "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "G13000100001001", key)
}

func TestCanonicalSchemaErrors(t *testing.T) {
	p, err := Default().Lookup("block_2010")
	require.NoError(t, err)

	_, err = p.Canonical(map[string]any{"NAME": "x"})
	var se *SchemaError
	require.ErrorAs(t, err, &se)

	_, err = p.Canonical(map[string]any{"GEOID10": "1", "STATEFP10": "12"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "COUNTYFP10", se.Field)
}

func TestCensusKeyFallback(t *testing.T) {
	p, err := Default().Lookup("block_2010")
	require.NoError(t, err)

	k, ok := p.CensusKey(map[string]any{"GEOID": "42"})
	assert.True(t, ok)
	assert.Equal(t, "42", k)

	_, ok = p.CensusKey(map[string]any{"GEOID10": ""})
	assert.False(t, ok)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default().Lookup("FL_tract_1990")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
	var ue *UnknownProfileError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "FL_tract_1990", ue.ID)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(&Profile{ID: "x", CensusKeyFields: []string{"GEOID"}}))
	require.Error(t, r.Register(&Profile{ID: "", Synthesize: func(map[string]any) (string, error) { return "", nil }}))

	p := &Profile{
		ID:              "tract_2000",
		CensusKeyFields: []string{"CTIDFP00"},
		Synthesize:      func(map[string]any) (string, error) { return "G", nil },
	}
	require.NoError(t, r.Register(p))
	assert.Equal(t, DefaultCanonicalField, p.CanonicalField)
	require.Error(t, r.Register(p))
	assert.Equal(t, []string{"tract_2000"}, r.IDs())
}

func TestDefaultRegistersEveryBuiltin(t *testing.T) {
	var r *Registry
	require.NotPanics(t, func() { r = Default() })
	assert.Len(t, r.IDs(), len(Builtin()))
}
