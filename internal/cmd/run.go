package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/phonefleet/internal/config"
	"github.com/Iron-Ham/phonefleet/internal/console"
	"github.com/Iron-Ham/phonefleet/internal/logging"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <task>",
	Short: "Run a task on devices and follow it in the terminal",
	Long: `Run a task on every selected device and print each device's events.

While the run is in progress you can type:
  resume [device|glob...]   continue devices paused for a manual takeover
  stop [device|glob...]     stop devices
  status                    show every device's state
  quit                      stop everything and exit

Without arguments, resume and stop apply to all devices. Ctrl-C stops all
devices; the command exits once every device has finished.

Examples:
  # Open settings on two emulators
  phonefleet run -d emulator-5554 -d emulator-5556 "open settings"

  # Rehearse with a scripted agent and the Zhipu AI profile
  phonefleet run --agent script --script login.yaml --profile "Zhipu AI" "log in"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runDevices    []string
	runProfile    string
	runAgent      string
	runScript     string
	runMaxSteps   int
	runTimeout    time.Duration
	runColor      string
	runTimestamps bool
	runWidth      int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVarP(&runDevices, "device", "d", nil, "Device ID to run on (repeatable; default: devices from config)")
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "Model profile (see 'phonefleet profiles')")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent kind: script or exec")
	runCmd.Flags().StringVar(&runScript, "script", "", "Script file for the script agent")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "Maximum agent actions per device")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-device run deadline (e.g. 10m; 0 disables)")
	runCmd.Flags().StringVar(&runColor, "color", "", "Color output: auto, always or never")
	runCmd.Flags().BoolVar(&runTimestamps, "timestamps", false, "Prefix events with their time")
	runCmd.Flags().IntVar(&runWidth, "width", 0, "Cut event lines to this width (0 = terminal width)")
}

// applyRunFlags overrides cfg with the flags set on cmd.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("agent") {
		cfg.Agent.Kind = runAgent
	}
	if flags.Changed("script") {
		cfg.Agent.Script = runScript
	}
	if flags.Changed("max-steps") {
		cfg.Run.MaxSteps = runMaxSteps
	}
	if flags.Changed("timeout") {
		if runTimeout < 0 {
			return fmt.Errorf("--timeout must not be negative")
		}
		cfg.Run.TimeoutSeconds = int(runTimeout.Round(time.Second) / time.Second)
	}
	if flags.Changed("color") {
		cfg.Console.Color = runColor
	}
	if flags.Changed("timestamps") {
		cfg.Console.Timestamps = runTimestamps
	}
	if flags.Changed("width") {
		cfg.Console.Width = runWidth
	}
	if flags.Changed("device") {
		cfg.Devices = runDevices
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return config.ValidationErrors(errs)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices: pass --device or set devices in %s", config.ConfigFile())
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	task := strings.Join(args, " ")
	req, err := cfg.TaskRequest(task, runProfile, cfg.Agents())
	if err != nil {
		return err
	}

	printer := console.New(cmd.OutOrStdout(), console.Options{
		Color:      cfg.Console.Color,
		Timestamps: cfg.Console.Timestamps,
		Width:      cfg.Console.Width,
	})
	orch := newOrchestrator(cfg, logger)
	orch.Subscribe(printer.Handle)

	printer.Task(task)
	report, err := orch.Start(cfg.Devices, req)
	if err != nil {
		return err
	}
	logger.Info("interactive run", logging.KeyRunID, report.RunID, "devices", report.Started)
	printer.System("run %s on %s; type 'help' for commands", report.RunID, strings.Join(report.Started, ", "))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	p := &prompt{fleet: orch, printer: printer}
	stopInput := make(chan struct{})
	quit := operate(orch.Idle(), readLines(cmd.InOrStdin(), stopInput), signals, p)
	close(stopInput)

	if quit {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Orchestrator.StopGrace()+time.Second)
		defer cancel()
		if err := orch.Shutdown(ctx); err != nil {
			printer.System("some devices did not stop in time")
		}
	}

	history := orch.History()
	printer.Print(printer.Status(history))
	return runOutcome(history)
}

// operate dispatches operator input and signals until idle is closed or
// the operator quits. It reports whether the operator quit.
func operate(idle <-chan struct{}, lines <-chan string, signals <-chan os.Signal, p *prompt) bool {
	for {
		select {
		case <-idle:
			return false
		case line, ok := <-lines:
			if !ok {
				// Without input the run continues until every device is done.
				lines = nil
				continue
			}
			if p.execute(line) {
				return true
			}
		case <-signals:
			p.printer.System("stopping all devices")
			p.fleet.Stop("*")
		}
	}
}

// readLines forwards r line by line until EOF or until done is closed.
// A read already blocked on r ends with the process.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return out
}

// runOutcome turns the final device states into the command's error.
func runOutcome(history []worker.Info) error {
	var failed []string
	for _, info := range history {
		if info.State != worker.StateFinished {
			failed = append(failed, fmt.Sprintf("%s (%s)", info.DeviceID, info.State))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d devices did not finish: %s", len(failed), len(history), strings.Join(failed, ", "))
	}
	return nil
}
