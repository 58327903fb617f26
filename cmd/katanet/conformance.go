package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/conformance"
)

func newConformanceCmd() *cobra.Command {
	var (
		modelPath  string
		reference  string
		candidate  string
		seed       int64
		boardLen   int
		batchSize  int
		symmetries bool
		fp16Cand   string
	)
	cmd := &cobra.Command{
		Use:   "conformance",
		Short: "Check that two backends produce the same numbers",
		Long: "Run seeded single-layer cases and full evaluation batches through a\n" +
			"reference and a candidate backend and compare every output. Exits\n" +
			"nonzero if any comparison is out of tolerance.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fp16Mode, err := neuralnet.ParseMode(fp16Cand)
			if err != nil {
				return err
			}
			return runConformance(conformanceOptions{
				modelPath: modelPath, reference: reference, candidate: candidate,
				seed: seed, boardLen: boardLen, batchSize: batchSize,
				symmetries: symmetries, fp16Candidate: fp16Mode,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&modelPath, "model", "", "Model file for the full net comparison, default a random model")
	flags.StringVar(&reference, "reference", "cpu", `Reference backend configuration "name:config"`)
	flags.StringVar(&candidate, "candidate", "", `Candidate backend configuration "name:config"`)
	flags.Int64Var(&seed, "seed", 1, "Seed for the generated cases and inputs")
	flags.IntVar(&boardLen, "board-len", 0, "Board edge length of the full net comparison, default the model's maximum")
	flags.IntVar(&batchSize, "batch", 4, "Batch size of the full net comparison")
	flags.BoolVar(&symmetries, "symmetries", true, "Also compare under all board symmetries")
	flags.StringVar(&fp16Cand, "fp16-candidate", "auto", "Half precision on the candidate: auto, on or off")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

type conformanceOptions struct {
	modelPath     string
	reference     string
	candidate     string
	seed          int64
	boardLen      int
	batchSize     int
	symmetries    bool
	fp16Candidate neuralnet.Mode
}

func runConformance(opts conformanceOptions) error {
	model, err := loadOrRandomModel(opts.modelPath, opts.seed)
	if err != nil {
		return err
	}
	reference, err := neuralnet.NewWithConfig(opts.reference)
	if err != nil {
		return err
	}
	defer reference.Finalize()
	candidate, err := neuralnet.NewWithConfig(opts.candidate)
	if err != nil {
		return err
	}
	defer candidate.Finalize()

	fmt.Println(titleStyle.Render("Layer conformance"))
	layers := conformance.Run(reference, candidate,
		conformance.CasesForModel(model, opts.seed), conformance.DefaultTolerance)
	printReport(layers)

	fmt.Println(titleStyle.Render("Full net evaluation"))
	eval, err := conformance.CompareEval(reference, candidate, model, conformance.EvalOptions{
		Seed:          opts.seed,
		BatchSize:     opts.batchSize,
		XLen:          opts.boardLen,
		YLen:          opts.boardLen,
		Symmetries:    opts.symmetries,
		CandidateFP16: opts.fp16Candidate,
	})
	if err != nil {
		return err
	}
	printReport(eval)

	if !layers.AllPassed() || !eval.AllPassed() {
		return errors.Errorf("backend %q does not conform: %d layer and %d evaluation comparisons failed",
			candidate.Name(), layers.NumFailed(), eval.NumFailed())
	}
	fmt.Printf("all %d comparisons passed (%d skipped)\n",
		layers.NumPassed()+eval.NumPassed(), layers.NumSkipped()+eval.NumSkipped())
	return nil
}

func printReport(report *conformance.Report) {
	table := newPlainTable(true)
	table.Row("Case", "Max diff", "Tolerance", "Status")
	for _, res := range report.Results {
		status := "ok"
		switch {
		case res.Skipped:
			status = "skip: " + res.SkipReason
		case res.Failed:
			status = "FAIL"
			if res.Detail != "" {
				status = "FAIL: " + res.Detail
			}
		}
		table.Row(res.Name, fmt.Sprintf("%.3g", res.MaxAbsDiff),
			fmt.Sprintf("%.3g", res.Tolerance), status)
	}
	fmt.Println(table.Render())
	fmt.Printf("%d passed, %d failed, %d skipped\n",
		report.NumPassed(), report.NumFailed(), report.NumSkipped())
}
