// Package server exposes an orchestrator over HTTP for remote operators.
//
// # Endpoints
//
//	POST /api/runs            start a task on devices (RunRequest)
//	GET  /api/devices         active workers and last outcomes
//	GET  /api/devices/:id     one active worker
//	POST /api/devices/stop    stop devices by ID or glob (SelectRequest)
//	POST /api/devices/resume  resume paused devices (SelectRequest)
//	GET  /api/events          websocket stream of event envelopes
//	GET  /health              liveness
//
// The event stream first replays a bounded per-device history, oldest
// first, then forwards live events. A viewer that falls too far behind is
// disconnected rather than slowing down the devices.
//
// Configuration reloads through SetConfig apply to runs started afterwards.
package server
