package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hwata3535/KataGo/neuralnet/desc"
)

func newRandModelCmd() *cobra.Command {
	var opts desc.RandomOptions
	var activation, dtype string
	cmd := &cobra.Command{
		Use:   "randmodel OUT",
		Short: "Generate a random model and save it",
		Long: "Generate a structurally complete model with random weights and save it\n" +
			"to OUT. The same seed and shape flags always produce the identical\n" +
			"model. Compression follows the file extension (.gz, .lz4).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Activation, err = desc.ParseActivation(activation); err != nil {
				return err
			}
			storage, err := parseDType(dtype)
			if err != nil {
				return err
			}
			return runRandModel(args[0], opts, storage)
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&opts.Seed, "seed", 1, "Weight seed")
	flags.StringVar(&opts.Name, "name", "", "Model name stored in the file, default derived from the seed")
	flags.IntVar(&opts.Version, "version", 8, "Model format version")
	flags.IntVar(&opts.NumBlocks, "blocks", 4, "Trunk depth")
	flags.IntVar(&opts.GPoolEvery, "gpool-every", 3, "Every n-th block is a global pooling block")
	flags.IntVar(&opts.TrunkChannels, "channels", 32, "Trunk width")
	flags.IntVar(&opts.MaxBoardLen, "board-len", desc.MaxBoardLen, "Largest supported board edge length")
	flags.StringVar(&activation, "activation", "relu", "Trunk activation: relu or mish")
	flags.StringVar(&dtype, "dtype", "f32", "Weight storage type: f32, f16 or bf16")
	return cmd
}

func parseDType(s string) (dtypes.DType, error) {
	switch s {
	case "f32", "float32":
		return dtypes.Float32, nil
	case "f16", "float16":
		return dtypes.Float16, nil
	case "bf16", "bfloat16":
		return dtypes.BFloat16, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q, want f32, f16 or bf16", s)
}

func runRandModel(path string, opts desc.RandomOptions, storage dtypes.DType) error {
	model := desc.Random(opts)
	err := desc.Save(model, path, desc.SaveOptions{
		Compression: desc.CompressionForPath(path),
		DType:       storage,
	})
	if err != nil {
		return err
	}

	table := newPlainTable(false)
	table.Row("model", model.Name)
	table.Row("file", path)
	if stat, err := os.Stat(path); err == nil {
		table.Row("file size", humanize.Bytes(uint64(stat.Size())))
	}
	table.Row("blocks", fmt.Sprintf("%d x %d channels", model.NumBlocks(), model.TrunkChannels()))
	table.Row("# parameters", humanize.Comma(int64(model.NumWeights())))
	fmt.Println(table.Render())
	return nil
}
