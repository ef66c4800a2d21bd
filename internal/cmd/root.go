package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/phonefleet/internal/cmd/config"
	"github.com/Iron-Ham/phonefleet/internal/cmd/remote"
	appconfig "github.com/Iron-Ham/phonefleet/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "phonefleet",
	Short: "Run one phone-agent task across many devices",
	Long: `phonefleet runs the same natural-language task on several Android
devices at once, one agent per device, and streams every device's progress
to your terminal or to remote viewers.

An agent may hand a device back to you (for a login or a captcha); resume it
once you are done and the agent carries on. Other devices are not affected.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/phonefleet/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	config.Register(rootCmd)
	remote.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(appconfig.EnvPrefix)
	// Replace dots with underscores for nested keys in env vars
	// e.g., PHONEFLEET_MODEL_BASE_URL for model.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
