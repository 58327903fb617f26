package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		modelPath  string
		backend    string
		seed       int64
		boardLen   int
		batchSize  int
		numBatches int
		warmup     int
		fp16, nhwc string
		exact      bool
		tunerFile  string
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure evaluation throughput",
		Long: "Run timed batches through one backend and report positions per second.\n" +
			"Without --model a seeded random model is used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fp16Mode, err := neuralnet.ParseMode(fp16)
			if err != nil {
				return err
			}
			nhwcMode, err := neuralnet.ParseMode(nhwc)
			if err != nil {
				return err
			}
			return runBenchmark(benchmarkOptions{
				modelPath: modelPath, backend: backend, seed: seed,
				boardLen: boardLen, batchSize: batchSize,
				numBatches: numBatches, warmup: warmup,
				fp16: fp16Mode, nhwc: nhwcMode,
				exact: exact, tunerFile: tunerFile,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&modelPath, "model", "", "Model file to evaluate, default a random model")
	flags.StringVar(&backend, "backend", "", `Backend configuration "name:config", default $`+neuralnet.ConfigEnvVar)
	flags.Int64Var(&seed, "seed", 1, "Seed for the random model and the staged boards")
	flags.IntVar(&boardLen, "board-len", 0, "Board edge length, default the model's maximum")
	flags.IntVar(&batchSize, "batch", 16, "Positions per batch")
	flags.IntVar(&numBatches, "batches", 100, "Timed batches to run")
	flags.IntVar(&warmup, "warmup", 3, "Untimed warmup batches")
	flags.StringVar(&fp16, "fp16", "auto", "Half precision arithmetic: auto, on or off")
	flags.StringVar(&nhwc, "nhwc", "auto", "Channels-last device layout: auto, on or off")
	flags.BoolVar(&exact, "exact", false, "Promise full-extent boards, skipping masking")
	flags.StringVar(&tunerFile, "tuner-file", "", "Tuning cache file, empty tunes from scratch")
	return cmd
}

type benchmarkOptions struct {
	modelPath  string
	backend    string
	seed       int64
	boardLen   int
	batchSize  int
	numBatches int
	warmup     int
	fp16, nhwc neuralnet.Mode
	exact      bool
	tunerFile  string
}

func runBenchmark(opts benchmarkOptions) error {
	model, err := loadOrRandomModel(opts.modelPath, opts.seed)
	if err != nil {
		return err
	}
	backend, err := newBackend(opts.backend)
	if err != nil {
		return err
	}
	defer backend.Finalize()

	boardLen := opts.boardLen
	if boardLen == 0 {
		boardLen = model.MaxBoardLen
	}
	ctx, err := backend.NewContext(model, neuralnet.ContextConfig{
		XLen: boardLen, YLen: boardLen,
		TunerFile: opts.tunerFile,
		FP16:      opts.fp16, NHWC: opts.nhwc,
	})
	if err != nil {
		return err
	}
	defer ctx.Finalize()
	handle, err := ctx.NewHandle(neuralnet.HandleConfig{
		MaxBatchSize:    opts.batchSize,
		RequireExactLen: opts.exact,
	})
	if err != nil {
		return err
	}
	defer handle.Finalize()

	buffers := neuralnet.NewBuffers(model, opts.batchSize, boardLen, boardLen)
	defer buffers.Finalize()
	fillBenchmarkBuffers(buffers, model, opts.batchSize, opts.exact, rand.New(rand.NewSource(opts.seed)))
	outputs := make([]*neuralnet.Output, opts.batchSize)
	for i := range outputs {
		outputs[i] = neuralnet.NewOutput(model, boardLen, boardLen)
	}

	for i := 0; i < opts.warmup; i++ {
		handle.EvalBatch(buffers, opts.batchSize, outputs)
	}

	bar := progressbar.NewOptions(opts.numBatches,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	start := time.Now()
	for i := 0; i < opts.numBatches; i++ {
		handle.EvalBatch(buffers, opts.batchSize, outputs)
		_ = bar.Add(1)
	}
	elapsed := time.Since(start)
	_ = bar.Finish()
	fmt.Println()

	positions := opts.numBatches * opts.batchSize
	rate := float64(positions) / elapsed.Seconds()
	table := newPlainTable(false)
	table.Row("model", model.Name)
	table.Row("backend", backend.Name())
	table.Row("device", handle.Device().String())
	table.Row("extent", fmt.Sprintf("%dx%d", boardLen, boardLen))
	table.Row("batch size", humanize.Comma(int64(opts.batchSize)))
	table.Row("fp16", fmt.Sprintf("%v", handle.UsesFP16()))
	table.Row("batches", humanize.Comma(int64(opts.numBatches)))
	table.Row("elapsed", elapsed.Round(time.Millisecond).String())
	table.Row("positions/s", humanize.Comma(int64(rate)))
	table.Row("us/position", fmt.Sprintf("%.1f", float64(elapsed.Microseconds())/float64(positions)))
	fmt.Println(table.Render())
	return nil
}

// fillBenchmarkBuffers stages random positions: full boards under exact,
// otherwise a mix of the full extent and smaller boards, with sparse binary
// features and noise globals.
func fillBenchmarkBuffers(buffers *neuralnet.Buffers, model *desc.Model, numRows int, exact bool, rng *rand.Rand) {
	xLen, yLen := buffers.XLen(), buffers.YLen()
	area := xLen * yLen
	for n := 0; n < numRows; n++ {
		spatial := buffers.Spatial(n)
		bx, by := xLen, yLen
		if !exact && n%2 == 1 {
			bx = 2 + rng.Intn(xLen-1)
			by = 2 + rng.Intn(yLen-1)
		}
		for y := 0; y < by; y++ {
			for x := 0; x < bx; x++ {
				spatial[y*xLen+x] = 1
			}
		}
		for c := 1; c < model.NumInputChannels; c++ {
			plane := spatial[c*area : (c+1)*area]
			for y := 0; y < by; y++ {
				for x := 0; x < bx; x++ {
					if rng.Float32() < 0.15 {
						plane[y*xLen+x] = 1
					}
				}
			}
		}
		global := buffers.Global(n)
		for i := range global {
			global[i] = float32(rng.NormFloat64())
		}
	}
}
