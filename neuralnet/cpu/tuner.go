package cpu

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// The tuner picks the convolution implementation per device and board
// extent: direct accumulation wins on small boards and thin models, im2col
// plus sgemm wins once the patch matrices get large enough to amortize. The
// choice is measured once and cached in a JSON file so later contexts skip
// the benchmark.

const tunerFileVersion = 1

type tunerKey struct {
	Device        int  `json:"device"`
	XLen          int  `json:"xLen"`
	YLen          int  `json:"yLen"`
	TrunkChannels int  `json:"trunkChannels"`
	FP16          bool `json:"fp16"`
}

type tunerEntry struct {
	tunerKey
	ConvAlgo convAlgo `json:"convAlgo"`
}

type tunerCache struct {
	Version int          `json:"version"`
	Entries []tunerEntry `json:"entries"`
}

type tuner struct {
	path string

	mu      sync.Mutex
	entries map[tunerKey]convAlgo
	dirty   bool
}

// loadTuner reads the cache at path. A missing file is an empty cache; a
// file that does not parse is an error, callers surface it rather than
// silently re-tuning over a cache the user pointed at. An empty path
// disables persistence.
func loadTuner(path string) (*tuner, error) {
	t := &tuner{path: path, entries: make(map[tunerKey]convAlgo)}
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, errors.Wrapf(err, "reading tuner cache %q", path)
	}
	var cache tunerCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, errors.Wrapf(err, "tuner cache %q is corrupt", path)
	}
	if cache.Version != tunerFileVersion {
		return nil, errors.Errorf("tuner cache %q has unsupported version %d", path, cache.Version)
	}
	for _, e := range cache.Entries {
		t.entries[e.tunerKey] = e.ConvAlgo
	}
	return t, nil
}

func (t *tuner) lookup(key tunerKey) (convAlgo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	algo, ok := t.entries[key]
	return algo, ok
}

func (t *tuner) record(key tunerKey, algo convAlgo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.entries[key]; ok && prev == algo {
		return
	}
	t.entries[key] = algo
	t.dirty = true
}

// save writes the cache back atomically, through a temp file renamed into
// place. Saving is best effort: a read-only location loses the tuning for
// the next process but never fails the current one, so callers only log
// the returned error.
func (t *tuner) save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path == "" || !t.dirty {
		return nil
	}
	cache := tunerCache{Version: tunerFileVersion}
	for key, algo := range t.entries {
		cache.Entries = append(cache.Entries, tunerEntry{tunerKey: key, ConvAlgo: algo})
	}
	sort.Slice(cache.Entries, func(i, j int) bool {
		return tunerKeyLess(cache.Entries[i].tunerKey, cache.Entries[j].tunerKey)
	})
	data, err := json.MarshalIndent(&cache, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding tuner cache")
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating tuner cache directory")
		}
	}
	tmp := t.path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing tuner cache")
	}
	if err := os.Rename(tmp, t.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "writing tuner cache")
	}
	t.dirty = false
	return nil
}

func tunerKeyLess(a, b tunerKey) bool {
	if a.Device != b.Device {
		return a.Device < b.Device
	}
	if a.YLen != b.YLen {
		return a.YLen < b.YLen
	}
	if a.XLen != b.XLen {
		return a.XLen < b.XLen
	}
	if a.TrunkChannels != b.TrunkChannels {
		return a.TrunkChannels < b.TrunkChannels
	}
	return !a.FP16 && b.FP16
}

// measureConvAlgo benchmarks both convolution paths on a synthetic 3x3
// convolution at the given size and returns the faster one. The data is
// seeded so repeated runs measure identical work.
func measureConvAlgo(channels, yLen, xLen int) convAlgo {
	const convSize = 3
	area := yLen * xLen
	rng := rand.New(rand.NewSource(41))
	src := make([]float32, channels*area)
	for i := range src {
		src[i] = float32(rng.NormFloat64())
	}
	w := make([]float32, channels*channels*convSize*convSize)
	for i := range w {
		w[i] = float32(rng.NormFloat64())
	}
	dst := make([]float32, channels*area)
	patch := make([]float32, channels*convSize*convSize*area)

	timeAlgo := func(run func()) time.Duration {
		run() // Warm up.
		best := time.Duration(1<<63 - 1)
		for i := 0; i < 3; i++ {
			start := time.Now()
			run()
			if d := time.Since(start); d < best {
				best = d
			}
		}
		return best
	}
	direct := timeAlgo(func() {
		convDirect(dst, src, w, channels, channels, yLen, xLen, convSize, convSize, 1, 1)
	})
	im2col := timeAlgo(func() {
		convIm2Col(dst, src, w, patch, channels, channels, yLen, xLen, convSize, convSize, 1, 1)
	})
	algo := algoIm2Col
	if direct < im2col {
		algo = algoDirect
	}
	klog.V(1).Infof("cpu tuner: %dch %dx%d direct=%v im2col=%v -> %s",
		channels, xLen, yLen, direct, im2col, algo)
	return algo
}
