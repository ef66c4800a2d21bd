package server

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/logging"
	"github.com/Iron-Ham/phonefleet/internal/orchestrator"
)

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

// buildRequest applies the overrides in body to the current configuration.
func (s *Server) buildRequest(body RunRequest) (orchestrator.TaskRequest, []string, error) {
	cur := s.current.Load()
	cfg := *cur.cfg
	agents := cur.agents

	if body.Profile != "" && body.Model != nil {
		return orchestrator.TaskRequest{}, nil, errors.New("profile and model are mutually exclusive")
	}
	if body.Model != nil {
		if err := body.Model.Validate(); err != nil {
			return orchestrator.TaskRequest{}, nil, err
		}
		cfg.Model = *body.Model
	}
	if body.Agent != "" {
		cfg.Agent.Kind = body.Agent
	}
	if body.MaxSteps != 0 {
		cfg.Run.MaxSteps = body.MaxSteps
	}
	if body.TimeoutSeconds != 0 {
		cfg.Run.TimeoutSeconds = body.TimeoutSeconds
	}

	devices := body.Devices
	if len(devices) == 0 {
		devices = cfg.Devices
	}
	req, err := cfg.TaskRequest(body.Task, body.Profile, agents)
	return req, devices, err
}

func (s *Server) handleStartRun(c *fiber.Ctx) error {
	var body RunRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(errors.Wrap(err, "decode run request"))
	}

	req, devices, err := s.buildRequest(body)
	if err != nil {
		return badRequest(err)
	}
	report, err := s.orch.Start(devices, req)
	if err != nil {
		return err
	}
	s.logger.Info("run requested",
		logging.KeyRunID, report.RunID,
		"started", report.Started,
		"busy", report.Busy,
	)
	if report.Started == nil {
		report.Started = []string{}
	}
	return c.Status(fiber.StatusAccepted).JSON(report)
}

func (s *Server) parseSelect(c *fiber.Ctx) ([]string, error) {
	var body SelectRequest
	if err := c.BodyParser(&body); err != nil {
		return nil, badRequest(errors.Wrap(err, "decode selection"))
	}
	if orchestrator.NewSelector(body.Devices).Empty() {
		return nil, badRequest(errors.ErrNoDevices)
	}
	return body.Devices, nil
}

func affected(devices []string) SelectResponse {
	if devices == nil {
		devices = []string{}
	}
	return SelectResponse{Devices: devices}
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	sels, err := s.parseSelect(c)
	if err != nil {
		return err
	}
	return c.JSON(affected(s.orch.Stop(sels...)))
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	sels, err := s.parseSelect(c)
	if err != nil {
		return err
	}
	return c.JSON(affected(s.orch.Resume(sels...)))
}

func (s *Server) handleDevices(c *fiber.Ctx) error {
	return c.JSON(DevicesResponse{
		Active:  statuses(s.orch.Snapshot()),
		History: statuses(s.orch.History()),
	})
}

func (s *Server) handleDevice(c *fiber.Ctx) error {
	info, err := s.orch.Status(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(NewDeviceStatus(info))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"devices": len(s.orch.Snapshot()),
		"viewers": s.hub.ViewerCount(),
		"agents":  s.current.Load().agents.Kinds(),
	})
}

// handleEvents streams event envelopes to a viewer: first the recorded
// history, then live events. ?devices=a,b* limits the stream.
func (s *Server) handleEvents() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		var filter func(string) bool
		if raw := conn.Query("devices"); raw != "" {
			filter = orchestrator.NewSelector(strings.Split(raw, ",")).Match
		}
		v, replay := s.hub.Register(filter)
		defer s.hub.Unregister(v)
		s.logger.Debug("viewer connected", "replay", len(replay))

		// Viewers only listen; a read error means the peer went away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.hub.Unregister(v)
					return
				}
			}
		}()

		for _, data := range replay {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		for {
			select {
			case data := <-v.Send():
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					s.logger.Debug("viewer write failed", "error", err)
					return
				}
			case <-v.Done():
				flush(conn, v)
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing"))
				return
			}
		}
	})
}

// flush writes frames still buffered for v.
func flush(conn *websocket.Conn, v *Viewer) {
	for {
		select {
		case data := <-v.Send():
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
