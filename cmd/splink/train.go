package splink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	splinklib "github.com/wilko77/splink"
	"github.com/wilko77/splink/pkg/blocking"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Estimate model parameters",
	Long: `Estimate the model's u probabilities from a random pair sample,
then run one EM session per training blocking rule from the settings
document. Trained parameters are written as JSON for later prediction
runs.`,
	RunE: runTrain,
}

var (
	trainSettings string
	trainInputs   []string
	trainOutput   string
	trainMaxPairs int
	trainSeed     int64
	trainSkipU    bool
	trainFixPrior bool
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&trainSettings, "settings", "", "settings document (JSON or YAML)")
	trainCmd.Flags().StringSliceVar(&trainInputs, "input", nil, "input CSV table (repeatable)")
	trainCmd.Flags().StringVar(&trainOutput, "params-out", "params.json", "file to write trained parameters to")
	trainCmd.Flags().IntVar(&trainMaxPairs, "max-pairs", 0, "pair budget for random-sample u estimation (default from config)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "random seed for sampling (default from config)")
	trainCmd.Flags().BoolVar(&trainSkipU, "skip-u", false, "skip the random-sample u estimation step")
	trainCmd.Flags().BoolVar(&trainFixPrior, "fix-prior", false, "hold the prior match probability constant")
	trainCmd.MarkFlagRequired("settings")
	trainCmd.MarkFlagRequired("input")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	linker, err := buildLinker(trainSettings, trainInputs)
	if err != nil {
		return err
	}
	defer linker.Close()

	maxPairs := trainMaxPairs
	if maxPairs <= 0 {
		maxPairs = viper.GetInt("training.max_pairs")
	}
	seed := trainSeed
	if seed == 0 {
		seed = viper.GetInt64("training.seed")
	}

	if !trainSkipU {
		untrained, err := linker.EstimateUUsingRandomSampling(ctx, maxPairs, seed)
		if err != nil {
			return err
		}
		if len(untrained) > 0 {
			fmt.Printf("u estimation left %d levels untrained: %v\n", len(untrained), untrained)
		}
	}

	rules := linker.Settings().TrainingRules()
	for i, rule := range rules {
		result, err := linker.EstimateParametersUsingEM(ctx, splinklib.TrainingSession{
			Rule:     rule,
			FixPrior: trainFixPrior,
		})
		if err != nil {
			return err
		}
		fmt.Printf("session %d (%s): %s after %d iterations\n",
			i+1, ruleLabel(rule), result.StoppingReason, result.Iterations)
		if result.Warning != nil {
			fmt.Printf("  warning: %v\n", result.Warning)
		}
		for _, lvl := range result.UntrainedLevels {
			fmt.Printf("  untrained: %s\n", lvl)
		}
	}

	data, err := json.MarshalIndent(linker.Parameters(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	if err := os.WriteFile(trainOutput, data, 0644); err != nil {
		return fmt.Errorf("writing parameters: %w", err)
	}
	fmt.Printf("Wrote trained parameters to %s\n", trainOutput)
	return nil
}

func ruleLabel(rule blocking.Rule) string {
	if rule.Condition != "" {
		return rule.Condition
	}
	return "custom rule"
}
