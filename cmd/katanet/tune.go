package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hwata3535/KataGo/neuralnet"
)

func newTuneCmd() *cobra.Command {
	var (
		modelPath string
		backend   string
		seed      int64
		tunerFile string
		sizes     string
		fp16      string
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Fill the tuning cache for the given board sizes",
		Long: "Create an evaluation context per board size with per-size retuning\n" +
			"forced, so later contexts using the same tuner file start instantly.\n" +
			"Sizes are comma separated, either square (19) or rectangular (13x9).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fp16Mode, err := neuralnet.ParseMode(fp16)
			if err != nil {
				return err
			}
			return runTune(modelPath, backend, seed, tunerFile, sizes, fp16Mode)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&modelPath, "model", "", "Model file to tune for, default a random model")
	flags.StringVar(&backend, "backend", "", `Backend configuration "name:config", default $`+neuralnet.ConfigEnvVar)
	flags.Int64Var(&seed, "seed", 1, "Seed for the random model")
	flags.StringVar(&tunerFile, "tuner-file", "", "Tuning cache file to fill")
	flags.StringVar(&sizes, "sizes", "", "Board sizes to tune, default the model's maximum")
	flags.StringVar(&fp16, "fp16", "auto", "Half precision arithmetic: auto, on or off")
	_ = cmd.MarkFlagRequired("tuner-file")
	return cmd
}

func runTune(modelPath, backendConfig string, seed int64, tunerFile, sizes string, fp16 neuralnet.Mode) error {
	model, err := loadOrRandomModel(modelPath, seed)
	if err != nil {
		return err
	}
	backend, err := newBackend(backendConfig)
	if err != nil {
		return err
	}
	defer backend.Finalize()

	extents, err := parseSizes(sizes, model.MaxBoardLen)
	if err != nil {
		return err
	}

	table := newPlainTable(true)
	table.Row("Extent", "Devices", "Elapsed")
	for _, e := range extents {
		start := time.Now()
		ctx, err := backend.NewContext(model, neuralnet.ContextConfig{
			XLen: e[0], YLen: e[1],
			TunerFile:          tunerFile,
			RetunePerBoardSize: true,
			FP16:               fp16,
		})
		if err != nil {
			return errors.WithMessagef(err, "tuning %dx%d", e[0], e[1])
		}
		numDevices := len(ctx.Devices())
		ctx.Finalize()
		table.Row(fmt.Sprintf("%dx%d", e[0], e[1]),
			strconv.Itoa(numDevices),
			time.Since(start).Round(time.Millisecond).String())
	}
	fmt.Println(table.Render())
	fmt.Printf("tuning cache written to %s\n", tunerFile)
	return nil
}

// parseSizes parses "19,13x9" into extents, defaulting to maxLen alone.
func parseSizes(s string, maxLen int) ([][2]int, error) {
	if s == "" {
		return [][2]int{{maxLen, maxLen}}, nil
	}
	var extents [][2]int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		xs, ys := part, part
		if idx := strings.IndexByte(part, 'x'); idx != -1 {
			xs, ys = part[:idx], part[idx+1:]
		}
		x, err := strconv.Atoi(xs)
		if err != nil {
			return nil, errors.Errorf("bad board size %q", part)
		}
		y, err := strconv.Atoi(ys)
		if err != nil {
			return nil, errors.Errorf("bad board size %q", part)
		}
		extents = append(extents, [2]int{x, y})
	}
	return extents, nil
}
