package desc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	m := Random(RandomOptions{Seed: 11, Name: "roundtrip"})
	for _, tc := range []struct {
		name string
		opts SaveOptions
	}{
		{"plain.safetensors", SaveOptions{}},
		{"gzipped.safetensors.gz", SaveOptions{Compression: CompressionGzip}},
		{"lz4.safetensors.lz4", SaveOptions{Compression: CompressionLZ4}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.name)
			require.NoError(t, Save(m, path, tc.opts))
			got, err := Load(path)
			require.NoError(t, err)
			if diff := cmp.Diff(m, got); diff != "" {
				t.Errorf("model changed through save/load (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveLoadHalfPrecision(t *testing.T) {
	m := Random(RandomOptions{Seed: 12, Name: "half"})
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16} {
		t.Run(dtype.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, SaveWriter(m, &buf, SaveOptions{DType: dtype}))
			got, err := LoadReader(&buf, "half")
			require.NoError(t, err)
			require.NoError(t, got.Validate())

			// Half precision keeps ~3 decimal digits; weights are O(1).
			tol := 1e-2
			want := m.Trunk.InitialConv.Weights
			have := got.Trunk.InitialConv.Weights
			require.Len(t, have, len(want))
			for i := range want {
				assert.InDelta(t, want[i], have[i], tol)
			}
		})
	}
}

func TestLoadTwiceGivesIndependentModels(t *testing.T) {
	m := Random(RandomOptions{Seed: 16, Name: "twice"})
	path := filepath.Join(t.TempDir(), "twice.safetensors")
	require.NoError(t, Save(m, path, SaveOptions{}))

	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, first.Name, second.Name)
	require.Equal(t, first.Version, second.Version)

	// Scribbling over one must not show through the other.
	for i := range first.Trunk.InitialConv.Weights {
		first.Trunk.InitialConv.Weights[i] = -123
	}
	first.Name = "scribbled"
	if diff := cmp.Diff(m, second); diff != "" {
		t.Errorf("second load shares state with the first (-want +got):\n%s", diff)
	}
}

func TestLoadSniffsCompression(t *testing.T) {
	// The extension lies: contents are gzip despite the plain name.
	m := Random(RandomOptions{Seed: 13})
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, Save(m, path, SaveOptions{Compression: CompressionGzip}))
	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("model changed through save/load (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("not a model at all"), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.safetensors"))
	require.Error(t, err)
}

func TestLoadRejectsTruncated(t *testing.T) {
	m := Random(RandomOptions{Seed: 14})
	var buf bytes.Buffer
	require.NoError(t, SaveWriter(m, &buf, SaveOptions{}))
	full := buf.Bytes()
	_, err := LoadReader(bytes.NewReader(full[:len(full)/2]), "truncated")
	require.Error(t, err)
}

func TestLoadRejectsMissingTensor(t *testing.T) {
	m := Random(RandomOptions{Seed: 15})
	tensors := collectTensors(m)
	// Rebuild the container by hand without the policy head's second conv.
	var buf bytes.Buffer
	kept := tensors[:0]
	for _, tt := range tensors {
		if tt.name != "policy.p2_conv.weight" {
			kept = append(kept, tt)
		}
	}
	require.NoError(t, writeContainer(&buf, modelMetadata(m), kept, dtypes.Float32))
	_, err := LoadReader(&buf, "broken")
	require.ErrorContains(t, err, "policy.p2_conv")
}

func TestDefaultModelName(t *testing.T) {
	assert.Equal(t, "b6c96", defaultModelName("/models/b6c96.safetensors.gz"))
	assert.Equal(t, "net", defaultModelName("net.bin.lz4"))
	assert.Equal(t, "plain", defaultModelName("plain"))
}

func TestCompressionForPath(t *testing.T) {
	assert.Equal(t, CompressionGzip, CompressionForPath("m.safetensors.gz"))
	assert.Equal(t, CompressionLZ4, CompressionForPath("m.safetensors.lz4"))
	assert.Equal(t, CompressionNone, CompressionForPath("m.safetensors"))
}
