package geo

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "EPSG:4326"}},
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"GISJOIN": "G1", "ALAND10": 1250}},
    {"type": "Feature", "geometry": null, "properties": {"GISJOIN": "G2", "flag": true}}
  ],
  "bbox": [0, 0, 1, 1]
}`

func TestReaderStreamsFeatures(t *testing.T) {
	r := NewReader(strings.NewReader(sample))

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "G1", f.Properties["GISJOIN"])
	assert.Equal(t, json.Number("1250"), f.Properties["ALAND10"])
	assert.JSONEq(t, `{"type":"Point","coordinates":[1,2]}`, string(f.Geometry))

	f, err = r.Next()
	require.NoError(t, err)
	v, ok := Scalar(f.Properties["flag"])
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderFeaturesFirstKey(t *testing.T) {
	r := NewReader(strings.NewReader(`{"features":[{"properties":{"a":"b"}}],"type":"FeatureCollection"}`))
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "Feature", f.Type)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderRejectsNonCollection(t *testing.T) {
	_, err := NewReader(strings.NewReader(`[1,2]`)).Next()
	assert.ErrorIs(t, err, ErrNotCollection)

	_, err = NewReader(strings.NewReader(`{"type":"FeatureCollection"}`)).Next()
	assert.ErrorIs(t, err, ErrNotCollection)
}

func TestReaderTruncatedInput(t *testing.T) {
	r := NewReader(strings.NewReader(`{"features":[{"properties":{"a":"b"}},{"prop`))
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.False(t, w.Opened())
	require.NoError(t, w.Write(&Feature{Type: "Feature", Geometry: json.RawMessage(`null`), Properties: map[string]any{"k": "1"}}))
	require.NoError(t, w.WriteRaw([]byte(`{"type":"Feature","geometry":null,"properties":{"k":"2"}}`)))
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Count())

	r := NewReader(&buf)
	var keys []string
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, f.Properties["k"].(string))
	}
	assert.Equal(t, []string{"1", "2"}, keys)
}

func TestWriterEmptyCollection(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Close())
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, buf.String())
}

func TestCloneIsolatesProperties(t *testing.T) {
	f := &Feature{Type: "Feature", Properties: map[string]any{"a": "1"}}
	c := f.Clone()
	c.Properties["a"] = "2"
	assert.Equal(t, "1", f.Properties["a"])
}
