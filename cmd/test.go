package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/mimemsg"
	"github.com/decency/contentfilter/internal/modfactory"
	"github.com/decency/contentfilter/internal/pipeline"
	"github.com/decency/contentfilter/internal/session"
)

var testConfigFile string

var testCmd = &cobra.Command{
	Use:   "test <message-file>",
	Short: "Dry-run a single message through the filter module chain",
	Long: `Run a spooled message through the configured filter module chain and
print its classification, without re-injecting, bouncing, or quarantining
anything. Useful to check a module chain's behavior against a sample
message before wiring it into the live daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		cfg, err := config.LoadConfig(testConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		modules, err := modfactory.Build(cfg.Modules, nil)
		if err != nil {
			return fmt.Errorf("failed to build filter module chain: %w", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		mime, err := mimemsg.Load(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		sess := session.New(filepath.Base(path), path, info.Size())
		sess.MIME = mime
		sess.QueueID = mime.QueueID()

		engine := &pipeline.Engine{
			Modules:   modules,
			Behavior:  pipeline.SpamBehavior(cfg.Disposition.Spam.Behavior),
			Threshold: cfg.Disposition.Spam.Threshold,
		}

		start := time.Now()
		result := engine.Run(context.Background(), sess)
		elapsed := time.Since(start)

		fmt.Printf("File:           %s\n", path)
		fmt.Printf("Queue ID:       %s\n", orDefault(sess.QueueID, "(none)"))
		fmt.Printf("Status:         %s\n", result.Status)
		fmt.Printf("Spam score:     %.1f (behavior=%s, threshold=%.1f)\n",
			sess.SpamScore, cfg.Disposition.Spam.Behavior, cfg.Disposition.Spam.Threshold)
		if sess.Virus != "" {
			fmt.Printf("Virus:          %s\n", sess.Virus)
		}
		if len(sess.SpamDetails) > 0 {
			fmt.Printf("Details:\n")
			for _, d := range sess.SpamDetails {
				fmt.Printf("  - %s\n", d)
			}
		}
		fmt.Printf("Processing time: %s\n", elapsed.Round(time.Microsecond))

		return nil
	},
}

func init() {
	testCmd.Flags().StringVarP(&testConfigFile, "config", "c", "config.yaml", "Configuration file path")
}
