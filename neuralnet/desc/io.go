package desc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	json "github.com/goccy/go-json"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Models are stored as safetensors: an 8-byte little-endian header length, a
// JSON header mapping tensor names to {dtype, shape, data_offsets} plus a
// __metadata__ string map, then the raw tensor data. The whole container may
// additionally be wrapped in gzip or lz4; Load sniffs the wrapping from the
// leading magic bytes.

// Compression selects the optional stream wrapping of a saved model.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionLZ4
)

// String returns the short name of the compression scheme.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// CompressionForPath guesses the compression from a file name extension.
func CompressionForPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".lz4":
		return CompressionLZ4
	}
	return CompressionNone
}

// SaveOptions configures Save. The zero value saves uncompressed float32.
type SaveOptions struct {
	Compression Compression
	// DType is the storage type of the weights: dtypes.Float32 (default),
	// dtypes.Float16 or dtypes.BFloat16. Loading always widens to float32.
	DType dtypes.DType
}

const maxHeaderLen = 100 * 1024 * 1024

var (
	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Save writes the model to path.
func Save(m *Model, path string, opts SaveOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "saving model to %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := SaveWriter(m, bw, opts); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "saving model to %s", path)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "saving model to %s", path)
	}
	return errors.Wrapf(f.Close(), "saving model to %s", path)
}

// SaveWriter writes the model to w.
func SaveWriter(m *Model, w io.Writer, opts SaveOptions) error {
	if err := m.Validate(); err != nil {
		return err
	}
	dtype := opts.DType
	if dtype == dtypes.InvalidDType {
		dtype = dtypes.Float32
	}

	var closer io.Closer
	switch opts.Compression {
	case CompressionNone:
	case CompressionGzip:
		zw := gzip.NewWriter(w)
		w, closer = zw, zw
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		w, closer = zw, zw
	default:
		return errors.Errorf("unknown compression %d", int(opts.Compression))
	}
	if err := writeContainer(w, modelMetadata(m), collectTensors(m), dtype); err != nil {
		return err
	}
	if closer != nil {
		return errors.Wrap(closer.Close(), "flushing compressed stream")
	}
	return nil
}

func writeContainer(w io.Writer, meta map[string]string, tensors []rawTensor, dtype dtypes.DType) error {
	dtypeName, itemSize, err := storageDType(dtype)
	if err != nil {
		return err
	}
	sorted := make([]rawTensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	header := make(map[string]any, len(sorted)+1)
	header["__metadata__"] = meta
	offset := int64(0)
	for _, t := range sorted {
		size := int64(len(t.data)) * int64(itemSize)
		header[t.name] = map[string]any{
			"dtype":        dtypeName,
			"shape":        t.shape,
			"data_offsets": [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return errors.Wrap(err, "writing header length")
	}
	if _, err := w.Write(headerBytes); err != nil {
		return errors.Wrap(err, "writing header")
	}
	buf := make([]byte, 0, 64*1024)
	for _, t := range sorted {
		buf = appendValues(buf[:0], t.data, dtype)
		if _, err := w.Write(buf); err != nil {
			return errors.Wrapf(err, "writing tensor %s", t.name)
		}
	}
	return nil
}

// Load reads a model from path, sniffing gzip/lz4 wrapping, and validates it.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading model from %s", path)
	}
	defer f.Close()
	m, err := LoadReader(f, defaultModelName(path))
	if err != nil {
		return nil, errors.Wrapf(err, "loading model from %s", path)
	}
	return m, nil
}

// LoadReader reads a model from r. fallbackName is used if the container
// carries no name of its own.
func LoadReader(r io.Reader, fallbackName string) (*Model, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, "reading magic bytes")
	}
	var body io.Reader = br
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		defer zr.Close()
		body = zr
	case bytes.HasPrefix(magic, lz4Magic):
		body = lz4.NewReader(br)
	}
	tf, err := readTensorFile(body)
	if err != nil {
		return nil, err
	}
	m, err := tf.buildModel(fallbackName)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func defaultModelName(path string) string {
	name := filepath.Base(path)
	for {
		ext := filepath.Ext(name)
		switch strings.ToLower(ext) {
		case ".safetensors", ".gz", ".gzip", ".lz4", ".bin":
			name = strings.TrimSuffix(name, ext)
			continue
		}
		return name
	}
}

type rawTensor struct {
	name  string
	shape []int64
	data  []float32
}

func collectTensors(m *Model) []rawTensor {
	var out []rawTensor
	addConv := func(name string, c *ConvLayer) {
		out = append(out, rawTensor{
			name:  name + ".weight",
			shape: []int64{int64(c.OutChannels), int64(c.InChannels), int64(c.ConvYSize), int64(c.ConvXSize)},
			data:  c.Weights,
		})
	}
	addMul := func(name string, mm *MatMulLayer) {
		out = append(out, rawTensor{
			name:  name + ".weight",
			shape: []int64{int64(mm.InChannels), int64(mm.OutChannels)},
			data:  mm.Weights,
		})
	}
	addBias := func(name string, mb *MatBiasLayer) {
		out = append(out, rawTensor{
			name:  name + ".weight",
			shape: []int64{int64(mb.NumChannels)},
			data:  mb.Weights,
		})
	}
	addBN := func(name string, b *BatchNormLayer) {
		n := []int64{int64(b.NumChannels)}
		out = append(out, rawTensor{name: name + ".mean", shape: n, data: b.Mean})
		out = append(out, rawTensor{name: name + ".variance", shape: n, data: b.Variance})
		if b.HasScale {
			out = append(out, rawTensor{name: name + ".scale", shape: n, data: b.Scale})
		}
		if b.HasBias {
			out = append(out, rawTensor{name: name + ".bias", shape: n, data: b.Bias})
		}
	}

	t := &m.Trunk
	addConv("trunk.initial_conv", &t.InitialConv)
	addMul("trunk.initial_matmul", &t.InitialMatMul)
	for i, b := range t.Blocks {
		prefix := blockPrefix(i)
		switch blk := b.(type) {
		case *ResidualBlock:
			addBN(prefix+".pre_bn", &blk.PreBN)
			addConv(prefix+".regular_conv", &blk.RegularConv)
			addBN(prefix+".mid_bn", &blk.MidBN)
			addConv(prefix+".final_conv", &blk.FinalConv)
		case *GlobalPoolingResidualBlock:
			addBN(prefix+".pre_bn", &blk.PreBN)
			addConv(prefix+".regular_conv", &blk.RegularConv)
			addConv(prefix+".gpool_conv", &blk.GPoolConv)
			addBN(prefix+".gpool_bn", &blk.GPoolBN)
			addMul(prefix+".gpool_to_bias", &blk.GPoolToBiasMul)
			addBN(prefix+".mid_bn", &blk.MidBN)
			addConv(prefix+".final_conv", &blk.FinalConv)
		}
	}
	addBN("trunk.tip_bn", &t.TipBN)

	p := &m.PolicyHead
	addConv("policy.p1_conv", &p.P1Conv)
	addConv("policy.g1_conv", &p.G1Conv)
	addBN("policy.g1_bn", &p.G1BN)
	addMul("policy.gpool_to_bias", &p.GPoolToBiasMul)
	addBN("policy.p1_bn", &p.P1BN)
	addConv("policy.p2_conv", &p.P2Conv)
	addMul("policy.gpool_to_pass", &p.GPoolToPassMul)

	v := &m.ValueHead
	addConv("value.v1_conv", &v.V1Conv)
	addBN("value.v1_bn", &v.V1BN)
	addMul("value.v2_mul", &v.V2Mul)
	addBias("value.v2_bias", &v.V2Bias)
	addMul("value.v3_mul", &v.V3Mul)
	addBias("value.v3_bias", &v.V3Bias)
	addMul("value.sv3_mul", &v.SV3Mul)
	addBias("value.sv3_bias", &v.SV3Bias)
	addConv("value.ownership_conv", &v.OwnershipConv)
	return out
}

func blockPrefix(i int) string {
	return "trunk.block" + strconv.Itoa(i)
}

func modelMetadata(m *Model) map[string]string {
	kinds := make([]string, len(m.Trunk.Blocks))
	for i, b := range m.Trunk.Blocks {
		kinds[i] = b.Kind().String()
	}
	return map[string]string{
		"name":                   m.Name,
		"version":                strconv.Itoa(m.Version),
		"maxBoardLen":            strconv.Itoa(m.MaxBoardLen),
		"numInputChannels":       strconv.Itoa(m.NumInputChannels),
		"numInputGlobalChannels": strconv.Itoa(m.NumInputGlobalChannels),
		"numValueChannels":       strconv.Itoa(m.NumValueChannels),
		"numScoreValueChannels":  strconv.Itoa(m.NumScoreValueChannels),
		"numOwnershipChannels":   strconv.Itoa(m.NumOwnershipChannels),
		"activation":             m.Activation.String(),
		"blockKinds":             strings.Join(kinds, ","),
		"trunkNumChannels":       strconv.Itoa(m.Trunk.TrunkNumChannels),
		"midNumChannels":         strconv.Itoa(m.Trunk.MidNumChannels),
		"regularNumChannels":     strconv.Itoa(m.Trunk.RegularNumChannels),
		"gpoolNumChannels":       strconv.Itoa(m.Trunk.GPoolNumChannels),
		"bnEpsilon":              strconv.FormatFloat(float64(m.Trunk.TipBN.Epsilon), 'g', -1, 32),
	}
}

func storageDType(d dtypes.DType) (name string, itemSize int, err error) {
	switch d {
	case dtypes.Float32:
		return "F32", 4, nil
	case dtypes.Float16:
		return "F16", 2, nil
	case dtypes.BFloat16:
		return "BF16", 2, nil
	}
	return "", 0, errors.Errorf("unsupported storage dtype %s", d)
}

func appendValues(buf []byte, data []float32, d dtypes.DType) []byte {
	switch d {
	case dtypes.Float16:
		for _, v := range data {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(float16.Fromfloat32(v)))
		}
	case dtypes.BFloat16:
		for _, v := range data {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(bfloat16.FromFloat32(v)))
		}
	default:
		for _, v := range data {
			buf = binary.LittleEndian.AppendUint32(buf, math32.Float32bits(v))
		}
	}
	return buf
}

type tensorEntry struct {
	dtype string
	shape []int64
	raw   []byte
}

type tensorFile struct {
	meta    map[string]string
	tensors map[string]tensorEntry
}

type headerTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

func readTensorFile(r io.Reader) (*tensorFile, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, errors.Wrap(err, "reading header length")
	}
	if headerLen > maxHeaderLen {
		return nil, errors.Errorf("header length %d exceeds limit %d", headerLen, maxHeaderLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, errors.Wrap(err, "parsing header")
	}

	tf := &tensorFile{
		meta:    make(map[string]string),
		tensors: make(map[string]tensorEntry, len(rawHeader)),
	}
	infos := make(map[string]headerTensorInfo, len(rawHeader))
	dataLen := int64(0)
	for name, raw := range rawHeader {
		if name == "__metadata__" {
			if err := json.Unmarshal(raw, &tf.meta); err != nil {
				return nil, errors.Wrap(err, "parsing metadata")
			}
			continue
		}
		var info headerTensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, errors.Wrapf(err, "parsing tensor %s", name)
		}
		if info.DataOffsets[0] < 0 || info.DataOffsets[1] < info.DataOffsets[0] {
			return nil, errors.Errorf("tensor %s: bad data offsets %v", name, info.DataOffsets)
		}
		infos[name] = info
		if info.DataOffsets[1] > dataLen {
			dataLen = info.DataOffsets[1]
		}
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "reading tensor data")
	}
	for name, info := range infos {
		size, err := tensorByteSize(name, info)
		if err != nil {
			return nil, err
		}
		if info.DataOffsets[1]-info.DataOffsets[0] != size {
			return nil, errors.Errorf("tensor %s: %d bytes for shape %v dtype %s, want %d",
				name, info.DataOffsets[1]-info.DataOffsets[0], info.Shape, info.DType, size)
		}
		tf.tensors[name] = tensorEntry{
			dtype: info.DType,
			shape: info.Shape,
			raw:   data[info.DataOffsets[0]:info.DataOffsets[1]],
		}
	}
	return tf, nil
}

func tensorByteSize(name string, info headerTensorInfo) (int64, error) {
	n := int64(1)
	for _, d := range info.Shape {
		if d < 0 {
			return 0, errors.Errorf("tensor %s: negative dimension in shape %v", name, info.Shape)
		}
		n *= d
	}
	switch info.DType {
	case "F32":
		return n * 4, nil
	case "F16", "BF16":
		return n * 2, nil
	}
	return 0, errors.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
}

func decodeValues(dtype string, raw []byte) []float32 {
	switch dtype {
	case "F16":
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out
	case "BF16":
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = bfloat16.BFloat16(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out
	default:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math32.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	}
}

func (tf *tensorFile) entry(name string) (tensorEntry, error) {
	e, ok := tf.tensors[name]
	if !ok {
		return tensorEntry{}, errors.Errorf("missing tensor %s", name)
	}
	return e, nil
}

func (tf *tensorFile) conv(name string) (ConvLayer, error) {
	e, err := tf.entry(name + ".weight")
	if err != nil {
		return ConvLayer{}, err
	}
	if len(e.shape) != 4 {
		return ConvLayer{}, errors.Errorf("tensor %s.weight: shape %v, want 4 dims", name, e.shape)
	}
	return ConvLayer{
		Name:        name,
		OutChannels: int(e.shape[0]),
		InChannels:  int(e.shape[1]),
		ConvYSize:   int(e.shape[2]),
		ConvXSize:   int(e.shape[3]),
		DilationY:   1,
		DilationX:   1,
		Weights:     decodeValues(e.dtype, e.raw),
	}, nil
}

func (tf *tensorFile) batchNorm(name string, epsilon float32) (BatchNormLayer, error) {
	mean, err := tf.entry(name + ".mean")
	if err != nil {
		return BatchNormLayer{}, err
	}
	variance, err := tf.entry(name + ".variance")
	if err != nil {
		return BatchNormLayer{}, err
	}
	b := BatchNormLayer{
		Name:        name,
		NumChannels: int(lenFromShape(mean.shape)),
		Epsilon:     epsilon,
		Mean:        decodeValues(mean.dtype, mean.raw),
		Variance:    decodeValues(variance.dtype, variance.raw),
	}
	if scale, ok := tf.tensors[name+".scale"]; ok {
		b.HasScale = true
		b.Scale = decodeValues(scale.dtype, scale.raw)
	}
	if bias, ok := tf.tensors[name+".bias"]; ok {
		b.HasBias = true
		b.Bias = decodeValues(bias.dtype, bias.raw)
	}
	return b, nil
}

func (tf *tensorFile) matMul(name string) (MatMulLayer, error) {
	e, err := tf.entry(name + ".weight")
	if err != nil {
		return MatMulLayer{}, err
	}
	if len(e.shape) != 2 {
		return MatMulLayer{}, errors.Errorf("tensor %s.weight: shape %v, want 2 dims", name, e.shape)
	}
	return MatMulLayer{
		Name:        name,
		InChannels:  int(e.shape[0]),
		OutChannels: int(e.shape[1]),
		Weights:     decodeValues(e.dtype, e.raw),
	}, nil
}

func (tf *tensorFile) matBias(name string) (MatBiasLayer, error) {
	e, err := tf.entry(name + ".weight")
	if err != nil {
		return MatBiasLayer{}, err
	}
	return MatBiasLayer{
		Name:        name,
		NumChannels: int(lenFromShape(e.shape)),
		Weights:     decodeValues(e.dtype, e.raw),
	}, nil
}

func lenFromShape(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func (tf *tensorFile) metaInt(key string) (int, error) {
	s, ok := tf.meta[key]
	if !ok {
		return 0, errors.Errorf("metadata missing %q", key)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "metadata %q", key)
	}
	return v, nil
}

func (tf *tensorFile) buildModel(fallbackName string) (*Model, error) {
	m := &Model{Name: tf.meta["name"]}
	if m.Name == "" {
		m.Name = fallbackName
	}
	var err error
	assign := func(dst *int, key string) {
		if err != nil {
			return
		}
		*dst, err = tf.metaInt(key)
	}
	assign(&m.Version, "version")
	assign(&m.MaxBoardLen, "maxBoardLen")
	assign(&m.NumInputChannels, "numInputChannels")
	assign(&m.NumInputGlobalChannels, "numInputGlobalChannels")
	assign(&m.NumValueChannels, "numValueChannels")
	assign(&m.NumScoreValueChannels, "numScoreValueChannels")
	assign(&m.NumOwnershipChannels, "numOwnershipChannels")
	t := &m.Trunk
	assign(&t.TrunkNumChannels, "trunkNumChannels")
	assign(&t.MidNumChannels, "midNumChannels")
	assign(&t.RegularNumChannels, "regularNumChannels")
	assign(&t.GPoolNumChannels, "gpoolNumChannels")
	if err != nil {
		return nil, err
	}
	if m.Activation, err = ParseActivation(tf.meta["activation"]); err != nil {
		return nil, err
	}
	epsilon := float32(1e-5)
	if s, ok := tf.meta["bnEpsilon"]; ok {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, errors.Wrap(err, "metadata \"bnEpsilon\"")
		}
		epsilon = float32(v)
	}

	t.Name = "trunk"
	if t.InitialConv, err = tf.conv("trunk.initial_conv"); err != nil {
		return nil, err
	}
	if t.InitialMatMul, err = tf.matMul("trunk.initial_matmul"); err != nil {
		return nil, err
	}
	kinds := strings.Split(tf.meta["blockKinds"], ",")
	if len(kinds) == 1 && kinds[0] == "" {
		kinds = nil
	}
	t.NumBlocks = len(kinds)
	for i, ks := range kinds {
		kind, err := ParseBlockKind(ks)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", i)
		}
		prefix := blockPrefix(i)
		switch kind {
		case BlockOrdinary:
			blk := &ResidualBlock{BlockName: prefix}
			if blk.PreBN, err = tf.batchNorm(prefix+".pre_bn", epsilon); err != nil {
				return nil, err
			}
			if blk.RegularConv, err = tf.conv(prefix + ".regular_conv"); err != nil {
				return nil, err
			}
			if blk.MidBN, err = tf.batchNorm(prefix+".mid_bn", epsilon); err != nil {
				return nil, err
			}
			if blk.FinalConv, err = tf.conv(prefix + ".final_conv"); err != nil {
				return nil, err
			}
			t.Blocks = append(t.Blocks, blk)
		case BlockGlobalPooling:
			blk := &GlobalPoolingResidualBlock{BlockName: prefix}
			if blk.PreBN, err = tf.batchNorm(prefix+".pre_bn", epsilon); err != nil {
				return nil, err
			}
			if blk.RegularConv, err = tf.conv(prefix + ".regular_conv"); err != nil {
				return nil, err
			}
			if blk.GPoolConv, err = tf.conv(prefix + ".gpool_conv"); err != nil {
				return nil, err
			}
			if blk.GPoolBN, err = tf.batchNorm(prefix+".gpool_bn", epsilon); err != nil {
				return nil, err
			}
			if blk.GPoolToBiasMul, err = tf.matMul(prefix + ".gpool_to_bias"); err != nil {
				return nil, err
			}
			if blk.MidBN, err = tf.batchNorm(prefix+".mid_bn", epsilon); err != nil {
				return nil, err
			}
			if blk.FinalConv, err = tf.conv(prefix + ".final_conv"); err != nil {
				return nil, err
			}
			t.Blocks = append(t.Blocks, blk)
		}
	}
	if t.TipBN, err = tf.batchNorm("trunk.tip_bn", epsilon); err != nil {
		return nil, err
	}

	p := &m.PolicyHead
	p.Name = "policy"
	if p.P1Conv, err = tf.conv("policy.p1_conv"); err != nil {
		return nil, err
	}
	if p.G1Conv, err = tf.conv("policy.g1_conv"); err != nil {
		return nil, err
	}
	if p.G1BN, err = tf.batchNorm("policy.g1_bn", epsilon); err != nil {
		return nil, err
	}
	if p.GPoolToBiasMul, err = tf.matMul("policy.gpool_to_bias"); err != nil {
		return nil, err
	}
	if p.P1BN, err = tf.batchNorm("policy.p1_bn", epsilon); err != nil {
		return nil, err
	}
	if p.P2Conv, err = tf.conv("policy.p2_conv"); err != nil {
		return nil, err
	}
	if p.GPoolToPassMul, err = tf.matMul("policy.gpool_to_pass"); err != nil {
		return nil, err
	}

	v := &m.ValueHead
	v.Name = "value"
	if v.V1Conv, err = tf.conv("value.v1_conv"); err != nil {
		return nil, err
	}
	if v.V1BN, err = tf.batchNorm("value.v1_bn", epsilon); err != nil {
		return nil, err
	}
	if v.V2Mul, err = tf.matMul("value.v2_mul"); err != nil {
		return nil, err
	}
	if v.V2Bias, err = tf.matBias("value.v2_bias"); err != nil {
		return nil, err
	}
	if v.V3Mul, err = tf.matMul("value.v3_mul"); err != nil {
		return nil, err
	}
	if v.V3Bias, err = tf.matBias("value.v3_bias"); err != nil {
		return nil, err
	}
	if v.SV3Mul, err = tf.matMul("value.sv3_mul"); err != nil {
		return nil, err
	}
	if v.SV3Bias, err = tf.matBias("value.sv3_bias"); err != nil {
		return nil, err
	}
	if v.OwnershipConv, err = tf.conv("value.ownership_conv"); err != nil {
		return nil, err
	}
	return m, nil
}
