package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/orchestrator"
	"github.com/Iron-Ham/phonefleet/internal/server"
)

// APIError is a non-2xx reply from the control server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a phonefleet control server.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a client for the server at baseURL. A nil hc uses a
// client with a 30 second timeout.
func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: u, http: hc}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// do sends body as JSON and decodes the reply into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr server.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// StartRun starts a run.
func (c *Client) StartRun(ctx context.Context, req server.RunRequest) (orchestrator.StartReport, error) {
	var report orchestrator.StartReport
	err := c.do(ctx, http.MethodPost, "/api/runs", req, &report)
	return report, err
}

// Stop stops the selected devices and returns the ones it stopped.
func (c *Client) Stop(ctx context.Context, selectors []string) ([]string, error) {
	var resp server.SelectResponse
	err := c.do(ctx, http.MethodPost, "/api/devices/stop", server.SelectRequest{Devices: selectors}, &resp)
	return resp.Devices, err
}

// Resume resumes the selected devices and returns the ones it woke.
func (c *Client) Resume(ctx context.Context, selectors []string) ([]string, error) {
	var resp server.SelectResponse
	err := c.do(ctx, http.MethodPost, "/api/devices/resume", server.SelectRequest{Devices: selectors}, &resp)
	return resp.Devices, err
}

// Devices returns the active workers and the last outcome per device.
func (c *Client) Devices(ctx context.Context) (server.DevicesResponse, error) {
	var resp server.DevicesResponse
	err := c.do(ctx, http.MethodGet, "/api/devices", nil, &resp)
	return resp, err
}

// eventsURL is the websocket URL of the event stream.
func (c *Client) eventsURL(selectors []string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/events"
	if len(selectors) > 0 {
		u.RawQuery = url.Values{"devices": {strings.Join(selectors, ",")}}.Encode()
	}
	return u.String()
}

// Watch streams events until ctx is done, the server closes the stream or
// fn returns false. The server replays recent history first.
func (c *Client) Watch(ctx context.Context, selectors []string, fn func(event.DeviceEvent) bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.eventsURL(selectors), nil)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		e, err := event.UnmarshalEvent(data)
		if err != nil {
			// Newer servers may send event types this client does not know.
			continue
		}
		if !fn(e) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// IsUnavailable reports whether err means the server refused new work
// because it is shutting down.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable
}
