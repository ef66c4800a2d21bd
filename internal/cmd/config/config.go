// Package config provides CLI commands for managing phonefleet configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/phonefleet/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create phonefleet configuration",
	Long: `View or create phonefleet configuration.

Use 'config show' to display the effective configuration, 'config init' to
create a commented config file and 'config validate' to check it.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, the config file and PHONEFLEET_*
environment variables were merged. API keys are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/phonefleet/config.yaml with all available options.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var initForce bool

func init() {
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	return writeSettings(out, viper.AllSettings())
}

// writeSettings renders settings as YAML with API keys masked.
func writeSettings(out io.Writer, settings map[string]any) error {
	maskKeys(settings)
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	return enc.Close()
}

// maskKeys replaces every api_key value below m.
func maskKeys(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			maskKeys(val)
		case string:
			if k == "api_key" && val != "" && val != "EMPTY" {
				m[k] = "***"
			}
		}
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()
	if err := writeTemplate(configFile, initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to set your model endpoint and devices.")
	return nil
}

func writeTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(appconfig.Template), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", appconfig.ConfigFile())
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_MODEL_BASE_URL)\n", appconfig.EnvPrefix, appconfig.EnvPrefix)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := appconfig.Load(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}
