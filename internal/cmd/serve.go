package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/phonefleet/internal/config"
	"github.com/Iron-Ham/phonefleet/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API and event stream",
	Long: `Start the control server. Remote operators start runs, stop and resume
devices over HTTP and follow events on a websocket (see 'phonefleet remote').

Edits to the config file are picked up while the server runs and apply to
runs started afterwards.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen    string
	serveAccessLog bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Address to listen on (default: server.listen)")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", false, "Log every request to stderr")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	orch := newOrchestrator(cfg, logger)
	opts := server.Options{}
	if serveAccessLog {
		opts.AccessLog = cmd.ErrOrStderr()
	}
	srv := server.New(orch, cfg, logger, opts)

	if viper.ConfigFileUsed() != "" {
		config.Watch(viper.GetViper(), func(next *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload rejected", "error", err)
				fmt.Fprintf(cmd.ErrOrStderr(), "config reload rejected: %v\n", err)
				return
			}
			srv.SetConfig(next)
		})
	}

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(addr) }()
	fmt.Fprintf(cmd.OutOrStdout(), "phonefleet listening on %s\n", addr)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case sig := <-signals:
		logger.Info("shutdown requested", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.Config().Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
