package splink

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	splinklib "github.com/wilko77/splink"
	"github.com/wilko77/splink/pkg/output"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score candidate record pairs",
	Long: `Generate candidate pairs from the blocking rules, score every pair
under the current model parameters, and write retained pairs to the output
directory as parquet (or CSV).`,
	RunE: runPredict,
}

var (
	predictSettings  string
	predictInputs    []string
	predictParams    string
	predictThreshold float64
	predictOutputDir string
	predictFormat    string
)

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVar(&predictSettings, "settings", "", "settings document (JSON or YAML)")
	predictCmd.Flags().StringSliceVar(&predictInputs, "input", nil, "input CSV table (repeatable)")
	predictCmd.Flags().StringVar(&predictParams, "params", "", "trained parameters file written by the train command")
	predictCmd.Flags().Float64Var(&predictThreshold, "threshold", 0, "minimum match probability to retain")
	predictCmd.Flags().StringVar(&predictOutputDir, "output", "", "output directory (default from config)")
	predictCmd.Flags().StringVar(&predictFormat, "format", "", "output format: parquet or csv")
	predictCmd.MarkFlagRequired("settings")
	predictCmd.MarkFlagRequired("input")
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var extra []splinklib.Option
	if predictParams != "" {
		params, err := loadParameters(predictParams)
		if err != nil {
			return err
		}
		extra = append(extra, splinklib.WithParameters(params))
	}

	linker, err := buildLinker(predictSettings, predictInputs, extra...)
	if err != nil {
		return err
	}
	defer linker.Close()

	pairs, err := linker.Predict(ctx, predictThreshold)
	if err != nil {
		return err
	}

	dir := predictOutputDir
	if dir == "" {
		dir = viper.GetString("output.dir")
	}
	format := predictFormat
	if format == "" {
		format = viper.GetString("output.format")
	}

	writer, err := output.NewResultWriter(dir)
	if err != nil {
		return err
	}
	var path string
	if format == "csv" {
		path, err = writer.WriteScoredPairsCSV(ctx, pairs)
	} else {
		path, err = writer.WriteScoredPairs(ctx, pairs)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d scored pairs to %s\n", len(pairs), path)
	return nil
}
