package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"geojoin/internal/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))
}

func TestReloadDiscoversJoinFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "FL_block_2010_join.geojson")
	write(t, dir, "custom_join.geojson")
	write(t, dir, "FL_block_2010_data_buffer.json")
	write(t, dir, "notes.txt")

	r := NewRegistry(dir, "/data", profile.Default())
	require.NoError(t, r.Reload())

	ds, ok := r.Lookup("FL_block_2010")
	require.True(t, ok)
	assert.Equal(t, "block_2010", ds.Profile)
	assert.Equal(t, "GISJOIN", ds.KeyField)
	assert.Equal(t, filepath.Join("/data", "FL_block_2010_data.csv"), ds.DataPath)
	assert.NotZero(t, ds.Generation)

	ds, ok = r.Lookup("custom")
	require.True(t, ok)
	assert.Empty(t, ds.Profile)
	assert.Equal(t, "GISJOIN", ds.KeyField)

	_, ok = r.Lookup("notes")
	assert.False(t, ok)
	assert.Len(t, r.List(), 2)
}

func TestGenerationTracksSizeAtSameModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "FL_block_2010_join.geojson")
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, os.WriteFile(path, []byte(`{"features":[]}`), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	r := NewRegistry(dir, dir, nil)
	require.NoError(t, r.Reload())
	before, ok := r.Lookup("FL_block_2010")
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	require.NoError(t, r.Reload())
	after, ok := r.Lookup("FL_block_2010")
	require.True(t, ok)

	assert.Equal(t, mtime.UnixNano()+after.Size, after.Generation)
	assert.NotEqual(t, before.Generation, after.Generation)
}

func TestReloadMissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"), "", nil)
	require.Error(t, r.Reload())
	assert.Empty(t, r.List())
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("FL_blck_grp_2017"))
	assert.False(t, ValidID("../etc"))
	assert.False(t, ValidID("a/b"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("a..b"))
}

func TestWatchPicksUpNewOutput(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, dir, nil)
	require.NoError(t, r.Reload())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))

	write(t, dir, "GA_block_2010_join.geojson")
	require.Eventually(t, func() bool {
		_, ok := r.Lookup("GA_block_2010")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "GA_block_2010_join.geojson")))
	require.Eventually(t, func() bool {
		_, ok := r.Lookup("GA_block_2010")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPollReloads(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Poll(ctx, 10*time.Millisecond)

	write(t, dir, "TX_block_2010_join.geojson")
	require.Eventually(t, func() bool {
		_, ok := r.Lookup("TX_block_2010")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
