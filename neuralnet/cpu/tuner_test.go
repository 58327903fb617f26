package cpu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunerCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cputune.json")
	key := tunerKey{Device: 0, XLen: 19, YLen: 19, TrunkChannels: 32}

	tun, err := loadTuner(path)
	require.NoError(t, err, "a missing cache file is an empty cache")
	_, ok := tun.lookup(key)
	assert.False(t, ok)

	tun.record(key, algoDirect)
	tun.record(tunerKey{Device: 1, XLen: 9, YLen: 9, TrunkChannels: 32, FP16: true}, algoIm2Col)
	require.NoError(t, tun.save())

	reloaded, err := loadTuner(path)
	require.NoError(t, err)
	algo, ok := reloaded.lookup(key)
	require.True(t, ok)
	assert.Equal(t, algoDirect, algo)
	algo, ok = reloaded.lookup(tunerKey{Device: 1, XLen: 9, YLen: 9, TrunkChannels: 32, FP16: true})
	require.True(t, ok)
	assert.Equal(t, algoIm2Col, algo)
}

func TestTunerSaveOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cputune.json")
	tun, err := loadTuner(path)
	require.NoError(t, err)

	require.NoError(t, tun.save())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing recorded, nothing written")

	key := tunerKey{Device: 0, XLen: 19, YLen: 19, TrunkChannels: 16}
	tun.record(key, algoIm2Col)
	require.NoError(t, tun.save())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Re-recording the same choice leaves the cache clean.
	tun.record(key, algoIm2Col)
	assert.False(t, tun.dirty)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTunerCacheCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cputune.json")
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o644))
	_, err := loadTuner(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")

	require.NoError(t, os.WriteFile(path, []byte(`{"version": 999, "entries": []}`), 0o644))
	_, err = loadTuner(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestTunerEmptyPathDisablesPersistence(t *testing.T) {
	tun, err := loadTuner("")
	require.NoError(t, err)
	tun.record(tunerKey{Device: 0, XLen: 9, YLen: 9, TrunkChannels: 8}, algoDirect)
	require.NoError(t, tun.save())
	algo, ok := tun.lookup(tunerKey{Device: 0, XLen: 9, YLen: 9, TrunkChannels: 8})
	require.True(t, ok)
	assert.Equal(t, algoDirect, algo)
}

func TestMeasureConvAlgo(t *testing.T) {
	algo := measureConvAlgo(8, 5, 5)
	assert.Contains(t, []convAlgo{algoDirect, algoIm2Col}, algo)
}
