package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"geojoin/internal/dataset"
	"geojoin/internal/geo"
	"geojoin/internal/profile"
	"geojoin/internal/query"
	"geojoin/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	stats map[string]int
	hits  int
}

func (f *fakeStore) ListRuns(ctx context.Context, geography string, limit int) ([]store.Run, error) {
	return []store.Run{{ID: 1, Geography: geography, Status: store.RunOK}}, nil
}

func (f *fakeStore) IncrQueryStats(ctx context.Context, ds string, hit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[ds]++
	if hit {
		f.hits++
	}
	return nil
}

func (f *fakeStore) GetTotals(ctx context.Context) ([]store.Totals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []store.Totals{{Dataset: "FL_block_2010", Total: int64(f.stats["FL_block_2010"]), CacheHits: int64(f.hits)}}, nil
}

func newServer(t *testing.T, st RunStore) (*httptest.Server, *query.Service) {
	t.Helper()
	dir := t.TempDir()
	{
		f, err := os.Create(filepath.Join(dir, "FL_block_2010"+dataset.JoinSuffix))
		require.NoError(t, err)
		w := geo.NewWriter(f)
		for _, p := range []map[string]any{
			{"GISJOIN": "G1", "STATE": "FL", "P001": "5"},
			{"GISJOIN": "G2", "STATE": "GA", "P001": "6"},
		} {
			require.NoError(t, w.Write(&geo.Feature{Type: "Feature", Geometry: json.RawMessage(`null`), Properties: p}))
		}
		require.NoError(t, w.Close())
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"+dataset.JoinSuffix), []byte(`[1,2,3]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "FL_block_2010"+dataset.DataSuffix), []byte("GISJOIN,P001\nG1,5\n"), 0o644))

	reg := dataset.NewRegistry(dir, dir, profile.Default())
	require.NoError(t, reg.Reload())
	qs := query.NewService(reg, nil, query.Config{})
	t.Cleanup(qs.Wait)
	srv := httptest.NewServer(BuildRoutes(Deps{Datasets: reg, Queries: qs, Store: st, MaxParams: 4}))
	t.Cleanup(srv.Close)
	return srv, qs
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestJoinRoute(t *testing.T) {
	st := &fakeStore{stats: map[string]int{}}
	srv, qs := newServer(t, st)

	resp, body := get(t, srv, "/join/FL_block_2010?STATE=FL&P001")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, geoJSONType, resp.Header.Get("content-type"))
	var fc struct {
		Type     string        `json:"type"`
		Features []geo.Feature `json:"features"`
	}
	require.NoError(t, json.Unmarshal(body, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, map[string]any{"GISJOIN": "G1", "STATE": "FL", "P001": "5"}, fc.Features[0].Properties)

	qs.Wait()
	resp, _ = get(t, srv, "/join/FL_block_2010?P001&STATE=FL")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st.mu.Lock()
	assert.Equal(t, 2, st.stats["FL_block_2010"])
	assert.Equal(t, 1, st.hits)
	st.mu.Unlock()

	resp, body = get(t, srv, "/join/FL_block_2010?STATE=TX")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(body))
}

func TestJoinRouteErrors(t *testing.T) {
	srv, _ := newServer(t, nil)

	cases := map[string]int{
		"/join/GA_block_2010?STATE=GA":       http.StatusNotFound,
		"/join/FL_block_2010?STATE=FL&STATE": http.StatusBadRequest,
		"/join/FL_block_2010?a&b&c&d&e":      http.StatusBadRequest,
		"/join/broken?STATE=FL":              http.StatusInternalServerError,
		"/shape/FL_block_2010":               http.StatusBadRequest,
		"/json/FL_block_2010?GISJOIN=G1":     http.StatusBadRequest,
		"/runs":                              http.StatusNotFound,
		"/stats":                             http.StatusNotFound,
	}
	for path, code := range cases {
		t.Run(path, func(t *testing.T) {
			resp, _ := get(t, srv, path)
			assert.Equal(t, code, resp.StatusCode)
		})
	}
}

func TestShapeAndTabularRoutes(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp, body := get(t, srv, "/shape/FL_block_2010?GISJOIN=G2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fc struct {
		Features []geo.Feature `json:"features"`
	}
	require.NoError(t, json.Unmarshal(body, &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, map[string]any{"GISJOIN": "G2"}, fc.Features[0].Properties)

	resp, body = get(t, srv, "/json/FL_block_2010?GISJOIN=G1&props=P001")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"G1":{"P001":"5"}}`, string(body))

	resp, _ = get(t, srv, "/json/GA_block_2010?GISJOIN=G1&props=P001")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDatasetsRunsAndStats(t *testing.T) {
	st := &fakeStore{stats: map[string]int{}}
	srv, _ := newServer(t, st)

	resp, body := get(t, srv, "/datasets")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []datasetView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "FL_block_2010", list[0].ID)
	assert.Equal(t, "block_2010", list[0].Profile)

	resp, body = get(t, srv, "/runs?geography=FL_block_2010")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "FL_block_2010", runs[0].Geography)

	resp, _ = get(t, srv, "/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
