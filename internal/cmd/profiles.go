package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/phonefleet/internal/config"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List model profiles",
	Long: `List the model profiles a run can select with --profile.

Built-in profiles are always available; profiles in the config file with the
same name (compared case-insensitively) replace them.`,
	Args: cobra.NoArgs,
	RunE: runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeProfiles(cmd.OutOrStdout(), cfg)
}

func writeProfiles(out io.Writer, cfg *config.Config) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tBASE URL\tLANG")
	for _, name := range cfg.ProfileNames() {
		m, err := cfg.Profile(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, m.ModelName, m.BaseURL, m.WithDefaults().Lang)
	}
	return tw.Flush()
}
