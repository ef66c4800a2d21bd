// Package remote provides CLI commands that drive a phonefleet control
// server ('phonefleet serve') over HTTP and follow its event stream.
package remote

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/Iron-Ham/phonefleet/internal/config"
	"github.com/Iron-Ham/phonefleet/internal/console"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/server"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Control a phonefleet server",
	Long: `Start runs, stop and resume devices and follow events on a server
started with 'phonefleet serve'. The server address defaults to server.url.`,
}

var startCmd = &cobra.Command{
	Use:   "start [flags] <task>",
	Short: "Start a task on the server's devices",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop [device|glob...]",
	Short: "Stop devices (all when none given)",
	RunE:  runStop,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [device|glob...]",
	Short: "Resume devices paused for a takeover (all when none given)",
	RunE:  runResume,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device states",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch [device|glob...]",
	Short: "Follow the event stream",
	Long: `Print events as they happen. Recent events are replayed first. Without
arguments every device is shown.`,
	RunE: runWatch,
}

var (
	serverURL string

	startDevices  []string
	startProfile  string
	startAgent    string
	startMaxSteps int
	startTimeout  time.Duration
	startWatch    bool

	statusHistory bool
)

func init() {
	remoteCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server URL (default: server.url)")

	startCmd.Flags().StringSliceVarP(&startDevices, "device", "d", nil, "Device ID to run on (repeatable; default: the server's devices)")
	startCmd.Flags().StringVarP(&startProfile, "profile", "p", "", "Model profile known to the server")
	startCmd.Flags().StringVar(&startAgent, "agent", "", "Agent kind: script or exec")
	startCmd.Flags().IntVar(&startMaxSteps, "max-steps", 0, "Maximum agent actions per device")
	startCmd.Flags().DurationVar(&startTimeout, "timeout", 0, "Per-device run deadline")
	startCmd.Flags().BoolVarP(&startWatch, "watch", "w", false, "Follow the started devices until they finish")

	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "Also show the last outcome of finished devices")

	remoteCmd.AddCommand(startCmd, stopCmd, resumeCmd, statusCmd, watchCmd)
}

// Register adds the remote command tree to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(remoteCmd)
}

// session bundles what every remote command needs.
type session struct {
	client  *Client
	printer *console.Printer
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg := appconfig.Get()
	base := serverURL
	if base == "" {
		base = cfg.Server.URL
	}
	client, err := NewClient(base, nil)
	if err != nil {
		return nil, err
	}
	printer := console.New(cmd.OutOrStdout(), console.Options{
		Color:      cfg.Console.Color,
		Timestamps: cfg.Console.Timestamps,
		Width:      cfg.Console.Width,
	})
	return &session{client: client, printer: printer}, nil
}

// signalContext is cancelled on Ctrl-C.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runStart(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	req := server.RunRequest{
		Devices:        startDevices,
		Task:           strings.Join(args, " "),
		Profile:        startProfile,
		Agent:          startAgent,
		MaxSteps:       startMaxSteps,
		TimeoutSeconds: int(startTimeout.Round(time.Second) / time.Second),
	}
	report, err := s.client.StartRun(ctx, req)
	if err != nil {
		if IsUnavailable(err) {
			return fmt.Errorf("server is shutting down: %w", err)
		}
		return err
	}

	s.printer.Task(req.Task)
	s.printer.System("run %s started on %s", report.RunID, joinOrNone(report.Started))
	if len(report.Busy) > 0 {
		s.printer.System("busy, skipped: %s", strings.Join(report.Busy, ", "))
	}
	if !startWatch || len(report.Started) == 0 {
		return nil
	}
	return s.follow(ctx, report.RunID, report.Started)
}

// follow prints the events of runID until each device in devices reached a
// terminal event.
func (s *session) follow(ctx context.Context, runID string, devices []string) error {
	pending := make(map[string]bool, len(devices))
	for _, d := range devices {
		pending[d] = true
	}
	return s.client.Watch(ctx, devices, func(e event.DeviceEvent) bool {
		if e.Run() != runID {
			return true
		}
		s.printer.Handle(e)
		if event.IsTerminal(e) {
			delete(pending, e.Device())
		}
		return len(pending) > 0
	})
}

func selectors(args []string) []string {
	if len(args) == 0 {
		return []string{"*"}
	}
	return args
}

func runStop(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	stopped, err := s.client.Stop(cmd.Context(), selectors(args))
	if err != nil {
		return err
	}
	s.printer.System("stopping: %s", joinOrNone(stopped))
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	resumed, err := s.client.Resume(cmd.Context(), selectors(args))
	if err != nil {
		return err
	}
	s.printer.System("resumed: %s", joinOrNone(resumed))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	resp, err := s.client.Devices(cmd.Context())
	if err != nil {
		return err
	}
	s.printer.Print(s.printer.Status(infos(resp.Active)))
	if statusHistory && len(resp.History) > 0 {
		s.printer.Print("")
		s.printer.Print(s.printer.Status(infos(resp.History)))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return s.client.Watch(ctx, args, func(e event.DeviceEvent) bool {
		s.printer.Handle(e)
		return true
	})
}

func infos(statuses []server.DeviceStatus) []worker.Info {
	out := make([]worker.Info, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, st.Info())
	}
	return out
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
