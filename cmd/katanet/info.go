package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hwata3535/KataGo/game"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

func newInfoCmd() *cobra.Command {
	var showBlocks, showRules bool
	cmd := &cobra.Command{
		Use:   "info MODEL",
		Short: "Summarize a model descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args[0], showBlocks, showRules)
		},
	}
	cmd.Flags().BoolVar(&showBlocks, "blocks", false, "List every trunk block")
	cmd.Flags().BoolVar(&showRules, "rules", false, "Report which rule features this model version supports")
	return cmd
}

func runInfo(path string, showBlocks, showRules bool) error {
	model, err := desc.Load(path)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("model", model.Name)
	table.Row("file", path)
	if stat, err := os.Stat(path); err == nil {
		table.Row("file size", humanize.Bytes(uint64(stat.Size())))
	}
	table.Row("version", strconv.Itoa(model.Version))
	table.Row("max board len", strconv.Itoa(model.MaxBoardLen))
	table.Row("activation", model.Activation.String())
	table.Row("input channels", fmt.Sprintf("%d spatial + %d global", model.NumInputChannels, model.NumInputGlobalChannels))
	table.Row("output channels", fmt.Sprintf("%d value, %d score value, %d ownership",
		model.NumValueChannels, model.NumScoreValueChannels, model.NumOwnershipChannels))
	numGPool := 0
	for _, b := range model.Trunk.Blocks {
		if b.Kind() == desc.BlockGlobalPooling {
			numGPool++
		}
	}
	table.Row("blocks", fmt.Sprintf("%d (%d global pooling)", model.NumBlocks(), numGPool))
	table.Row("channels", fmt.Sprintf("trunk %d, mid %d, regular %d, gpool %d",
		model.Trunk.TrunkNumChannels, model.Trunk.MidNumChannels,
		model.Trunk.RegularNumChannels, model.Trunk.GPoolNumChannels))
	table.Row("# parameters", humanize.Comma(int64(model.NumWeights())))
	table.Row("# bytes (float32)", humanize.Bytes(uint64(4*model.NumWeights())))
	fmt.Println(table.Render())

	if showBlocks {
		fmt.Println(titleStyle.Render("Blocks"))
		table := newPlainTable(true)
		table.Row("Block", "Kind", "Shape")
		for _, b := range model.Trunk.Blocks {
			switch blk := b.(type) {
			case *desc.ResidualBlock:
				table.Row(blk.Name(), blk.Kind().String(),
					fmt.Sprintf("%d -> %d -> %d", blk.RegularConv.InChannels,
						blk.RegularConv.OutChannels, blk.FinalConv.OutChannels))
			case *desc.GlobalPoolingResidualBlock:
				table.Row(blk.Name(), blk.Kind().String(),
					fmt.Sprintf("%d -> %d+%dg -> %d", blk.RegularConv.InChannels,
						blk.RegularConv.OutChannels, blk.GPoolConv.OutChannels,
						blk.FinalConv.OutChannels))
			}
		}
		fmt.Println(table.Render())
	}

	if showRules {
		fmt.Println(titleStyle.Render("Rule support"))
		japanese, _ := model.SupportedRules(game.Japanese(6.5))
		button := game.TrompTaylor(7)
		button.Button = true
		withButton, _ := model.SupportedRules(button)

		table := newPlainTable(true)
		table.Row("Feature", "Supported")
		table.Row("territory scoring", yesNo(japanese.Scoring == game.ScoringTerritory))
		table.Row("eye tax", yesNo(japanese.Tax != game.TaxNone))
		table.Row("button", yesNo(withButton.Button))
		fmt.Println(table.Render())
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
