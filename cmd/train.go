package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/modfactory"
	"github.com/decency/contentfilter/internal/training"
)

var (
	trainSpamDir    string
	trainHamDir     string
	trainSingleFile string
	trainLabel      string
	trainConfigFile string
	trainDelete     bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Offline training driver for trainable filter modules",
	Long: `Feed a labeled corpus into every Trainable module in the configured
chain: for each file, probe whether the module already
classifies it correctly and, if not, invoke its training command variant.
Per-module not_required/trained/errors counts are reported at the end.

Example usage:
  decency train --config config.yaml --spam-dir ./corpus/spam --ham-dir ./corpus/ham
  decency train --config config.yaml --single-file ./sample.eml --label spam`,
	RunE: runTraining,
}

func runTraining(cmd *cobra.Command, args []string) error {
	if trainSpamDir == "" && trainHamDir == "" && trainSingleFile == "" {
		return fmt.Errorf("specify --spam-dir/--ham-dir or --single-file")
	}

	cfg, err := config.LoadConfig(trainConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	modules, err := modfactory.Build(cfg.Modules, nil)
	if err != nil {
		return fmt.Errorf("failed to build filter module chain: %w", err)
	}

	driver := &training.Driver{Modules: modules, Delete: trainDelete}
	ctx := context.Background()
	start := time.Now()

	var report *training.Report
	if trainSingleFile != "" {
		label := training.Label(trainLabel)
		if label != training.LabelSpam && label != training.LabelHam {
			return fmt.Errorf("--label must be spam or ham")
		}
		report, err = driver.TrainSingle(ctx, trainSingleFile, label)
	} else {
		if trainSpamDir != "" {
			report, err = driver.TrainDir(ctx, trainSpamDir, training.LabelSpam)
			if err != nil {
				return fmt.Errorf("training on spam directory failed: %w", err)
			}
		}
		if trainHamDir != "" {
			report, err = driver.TrainDir(ctx, trainHamDir, training.LabelHam)
		}
	}
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	printTrainingReport(report, time.Since(start))
	return nil
}

func printTrainingReport(report *training.Report, elapsed time.Duration) {
	fmt.Printf("Training complete: %d files in %s\n\n", report.Files, elapsed.Round(time.Millisecond))
	fmt.Printf("%-20s %12s %12s %12s\n", "module", "not_required", "trained", "errors")
	for name, c := range report.Modules {
		fmt.Printf("%-20s %12d %12d %12d\n", name, c.NotRequired, c.Trained, c.Errors)
	}
}

func init() {
	trainCmd.Flags().StringVarP(&trainConfigFile, "config", "c", "config.yaml", "Configuration file path")
	trainCmd.Flags().StringVar(&trainSpamDir, "spam-dir", "", "Directory of spam corpus files")
	trainCmd.Flags().StringVar(&trainHamDir, "ham-dir", "", "Directory of ham corpus files")
	trainCmd.Flags().StringVar(&trainSingleFile, "single-file", "", "Train a single corpus file")
	trainCmd.Flags().StringVar(&trainLabel, "label", "", "Label for --single-file: spam or ham")
	trainCmd.Flags().BoolVar(&trainDelete, "delete", false, "Delete each consumed corpus file after training")
}
