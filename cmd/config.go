package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decency/contentfilter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Generate and inspect Decency content filter configuration files`,
}

var configGenCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default configuration file with all sections the daemon needs`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := "config.yaml"
		if len(args) > 0 {
			configPath = args[0]
		}

		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
			}
		}

		defaultConfig := config.DefaultConfig()
		if err := defaultConfig.Save(configPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Configuration file generated: %s\n", configPath)
		fmt.Printf("Edit it to configure spool paths, modules, and disposition policy.\n")
		fmt.Printf("Use 'decency daemon --config %s' to run the content filter with it.\n", configPath)

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a configuration file",
	Long:  `Load a configuration file and run Validate against it, reporting the first fatal error`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := args[0]

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid: %s\n", configPath)
		fmt.Printf("\nSummary:\n")
		fmt.Printf("  SMTP address: %s\n", cfg.SMTP.Address)
		fmt.Printf("  Reinject address: %s\n", cfg.Reinject.Address)
		fmt.Printf("  Cache backend: %s\n", cfg.Cache.Backend)
		fmt.Printf("  Spam behavior: %s (threshold %.1f, handle %s)\n",
			cfg.Disposition.Spam.Behavior, cfg.Disposition.Spam.Threshold, cfg.Disposition.Spam.Handle)
		fmt.Printf("  Virus handle: %s\n", cfg.Disposition.Virus.Handle)
		fmt.Printf("  Modules configured: %d\n", len(cfg.Modules))
		for _, m := range cfg.Modules {
			state := "enabled"
			if m.Disable {
				state = "disabled"
			}
			fmt.Printf("    - %s (%s, %s)\n", m.Name, m.Type, state)
		}

		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show effective configuration",
	Long:  `Display either the default configuration or a loaded config file`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.Config
		var err error

		if len(args) > 0 {
			cfg, err = config.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Printf("Configuration: %s\n\n", args[0])
		} else {
			cfg = config.DefaultConfig()
			fmt.Printf("Default configuration:\n\n")
		}

		fmt.Printf("Spool:\n")
		fmt.Printf("  dir: %s\n", cfg.Spool.Dir)
		fmt.Printf("  quarantine_dir: %s\n", cfg.Spool.QuarantineDir)
		fmt.Printf("  reinject_failure_dir: %s\n", cfg.Spool.ReinjectFailDir)

		fmt.Printf("\nSMTP ingress: %s\n", cfg.SMTP.Address)
		fmt.Printf("Reinject egress: %s\n", cfg.Reinject.Address)

		fmt.Printf("\nDisposition:\n")
		fmt.Printf("  spam.behavior: %s\n", cfg.Disposition.Spam.Behavior)
		fmt.Printf("  spam.threshold: %.1f\n", cfg.Disposition.Spam.Threshold)
		fmt.Printf("  spam.handle: %s\n", cfg.Disposition.Spam.Handle)
		fmt.Printf("  virus.handle: %s\n", cfg.Disposition.Virus.Handle)
		fmt.Printf("  noisy_headers: %v\n", cfg.Disposition.NoisyHeaders)

		fmt.Printf("\nModules: %d configured\n", len(cfg.Modules))

		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenCmd.Flags().Bool("force", false, "Overwrite existing config file")
}
