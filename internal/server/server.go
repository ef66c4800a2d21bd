package server

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/config"
	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/logging"
	"github.com/Iron-Ham/phonefleet/internal/orchestrator"
)

// maxBodySize bounds request bodies; run requests are small.
const maxBodySize = 1 << 20

// Options customizes a Server.
type Options struct {
	// AccessLog receives one line per request. Nil disables access logging.
	AccessLog io.Writer

	// Agents builds the agent registry for a configuration. Nil uses
	// (*config.Config).Agents.
	Agents func(*config.Config) *agent.Registry
}

// settings is the configuration new runs are built from. It is replaced
// as a whole on reload.
type settings struct {
	cfg    *config.Config
	agents *agent.Registry
}

// Server exposes an Orchestrator over HTTP and streams its events to
// websocket viewers.
type Server struct {
	app    *fiber.App
	orch   *orchestrator.Orchestrator
	hub    *Hub
	logger *logging.Logger

	agentsFor func(*config.Config) *agent.Registry
	current   atomic.Pointer[settings]
	subID     string
}

// New creates a Server for orch. The hub subscribes to orch immediately so
// that history is recorded before the first viewer connects.
func New(orch *orchestrator.Orchestrator, cfg *config.Config, logger *logging.Logger, opts Options) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("server")
	s := &Server{
		orch:      orch,
		hub:       NewHub(cfg.Server.HistorySize, logger),
		logger:    logger,
		agentsFor: opts.Agents,
	}
	if s.agentsFor == nil {
		s.agentsFor = (*config.Config).Agents
	}
	s.current.Store(&settings{cfg: cfg, agents: s.agentsFor(cfg)})
	s.subID = orch.Subscribe(s.hub.Handle)

	app := fiber.New(fiber.Config{
		AppName:               config.AppName,
		BodyLimit:             maxBodySize,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	if opts.AccessLog != nil {
		app.Use(fiberlogger.New(fiberlogger.Config{Output: opts.AccessLog}))
	}

	api := app.Group("/api")
	api.Post("/runs", s.handleStartRun)
	api.Get("/devices", s.handleDevices)
	api.Get("/devices/:id", s.handleDevice)
	api.Post("/devices/stop", s.handleStop)
	api.Post("/devices/resume", s.handleResume)

	api.Use("/events", upgradeOnly)
	api.Get("/events", s.handleEvents())

	app.Get("/health", s.handleHealth)

	s.app = app
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the configuration new runs are built from.
func (s *Server) Config() *config.Config { return s.current.Load().cfg }

// SetConfig makes cfg the configuration for future runs and applies its
// orchestrator section. Running devices keep the settings they started with.
func (s *Server) SetConfig(cfg *config.Config) {
	s.current.Store(&settings{cfg: cfg, agents: s.agentsFor(cfg)})
	s.orch.Reconfigure(cfg.Orchestrator.Settings())
	s.logger.Info("configuration reloaded",
		"agent_kind", cfg.Agent.Kind,
		"model", cfg.Model.Redacted().ModelName,
	)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops every device, lets viewers receive the final events and
// closes the listener. It returns the first error encountered.
func (s *Server) Shutdown(ctx context.Context) error {
	orchErr := s.orch.Shutdown(ctx)
	s.orch.Unsubscribe(s.subID)
	s.hub.Close()
	appErr := s.app.ShutdownWithContext(ctx)
	if orchErr != nil {
		return errors.Wrap(orchErr, "stopping devices")
	}
	return appErr
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// errorHandler renders every error as an ErrorResponse.
func errorHandler(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, errors.ErrShutdown):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, &errors.NotFoundError{}):
		return fiber.StatusNotFound
	case errors.Is(err, errors.ErrNoDevices), errors.Is(err, &errors.ConfigurationError{}):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
