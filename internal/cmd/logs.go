package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/phonefleet/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View debug logs",
	Long: `View and filter the phonefleet debug log, including rotated backups.

Examples:
  # Show the last 50 entries
  phonefleet logs

  # Everything one device logged during a run
  phonefleet logs --device emulator-5554 --run 3f2c... -n 0

  # Warnings and errors from the last hour
  phonefleet logs --level warn --since 1h

  # Export a run as CSV
  phonefleet logs --run 3f2c... --format csv -o run.csv`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsDir       string
	logsTail      int
	logsLevel     string
	logsSince     string
	logsDevice    string
	logsRun       string
	logsComponent string
	logsGrep      string
	logsFormat    string
	logsOutput    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "Log directory (default: logging.dir)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsDevice, "device", "", "Only entries for this device")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "Only entries for this run ID")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (orchestrator, worker, server, hub)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text, json or csv")
	logsCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "Write to this file instead of stdout")
}

// logsFilter builds the filter described by the logs flags.
func logsFilter(now time.Time) (logging.LogFilter, error) {
	filter := logging.LogFilter{
		RunID:           logsRun,
		DeviceID:        logsDevice,
		Component:       logsComponent,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return logging.LogFilter{}, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = now.Add(-d)
	}
	return filter, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Logging.ResolveDir()
	}

	filter, err := logsFilter(time.Now())
	if err != nil {
		return err
	}
	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		return err
	}
	entries = tail(logging.FilterLogs(entries, filter), logsTail)

	if logsOutput != "" {
		if err := logging.ExportLogEntries(entries, logsOutput, logsFormat); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", len(entries), logsOutput)
		return nil
	}
	return writeLogs(cmd.OutOrStdout(), entries, logsFormat)
}

func writeLogs(out io.Writer, entries []logging.LogEntry, format string) error {
	if len(entries) == 0 && format == "text" {
		_, err := fmt.Fprintln(out, "No matching log entries found.")
		return err
	}
	return logging.WriteEntries(out, entries, format)
}

// tail keeps the last n entries; n <= 0 keeps all.
func tail(entries []logging.LogEntry, n int) []logging.LogEntry {
	if n > 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}
