package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/blog-autopilot/internal/config"
)

var configCommand = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration the agent would run with: file values with
environment overrides and defaults applied. Secrets are redacted.`,
	RunE: runConfigCmd,
}

var configConfigPath string

func init() {
	configCommand.Flags().StringVar(&configConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(configCommand)
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	cfg, err := loadAgentConfig(configConfigPath, false)
	if err != nil {
		return err
	}
	rendered, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Println(rendered)
	return nil
}

// renderConfig serializes the config with credential fields masked, so
// the output is safe to paste into an issue or a chat.
func renderConfig(cfg *config.Config) (string, error) {
	redacted := *cfg
	if redacted.AppPassword != "" {
		redacted.AppPassword = "[redacted]"
	}
	if redacted.GeminiAPIKey != "" {
		redacted.GeminiAPIKey = "[redacted]"
	}
	if redacted.DatabaseURL != "" {
		redacted.DatabaseURL = "[redacted]"
	}
	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(data), nil
}
