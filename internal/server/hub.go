package server

import (
	"sort"
	"sync"

	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/logging"
)

// DefaultHistorySize is the number of events kept per device when the
// configured size is not positive.
const DefaultHistorySize = 200

// viewerBuffer is the number of frames a viewer may lag behind before it
// is disconnected.
const viewerBuffer = 256

// frame is one encoded event with its position in the global stream.
type frame struct {
	seq  uint64
	data []byte
}

// Viewer receives encoded events from a Hub.
type Viewer struct {
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	filter func(deviceID string) bool
}

// Send delivers frames published after the viewer registered.
func (v *Viewer) Send() <-chan []byte { return v.send }

// Done is closed when the viewer is dropped or the hub closes.
func (v *Viewer) Done() <-chan struct{} { return v.done }

func (v *Viewer) close() {
	v.once.Do(func() { close(v.done) })
}

func (v *Viewer) wants(deviceID string) bool {
	return v.filter == nil || v.filter(deviceID)
}

// Hub fans device events out to websocket viewers and keeps a bounded
// per-device history that is replayed to viewers that connect late.
//
// Handle runs on worker pumps, so it never blocks on a viewer: a viewer
// whose buffer is full is dropped.
type Hub struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	history map[string][]frame
	viewers map[*Viewer]struct{}
	closed  bool
	logger  *logging.Logger
}

// NewHub creates a hub keeping historySize events per device.
func NewHub(historySize int, logger *logging.Logger) *Hub {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Hub{
		limit:   historySize,
		history: make(map[string][]frame),
		viewers: make(map[*Viewer]struct{}),
		logger:  logger.WithComponent("hub"),
	}
}

// Handle is an event.Handler. Events that are not device events are ignored.
func (h *Hub) Handle(e event.Event) {
	de, ok := e.(event.DeviceEvent)
	if !ok {
		return
	}
	data, err := event.MarshalEvent(e)
	if err != nil {
		h.logger.Warn("event not encodable", "event_type", e.EventType(), "error", err)
		return
	}
	deviceID := de.Device()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	ring := append(h.history[deviceID], frame{seq: h.seq, data: data})
	if len(ring) > h.limit {
		ring = ring[len(ring)-h.limit:]
	}
	h.history[deviceID] = ring

	for v := range h.viewers {
		if !v.wants(deviceID) {
			continue
		}
		select {
		case v.send <- data:
		default:
			delete(h.viewers, v)
			v.close()
			h.logger.Warn("dropping slow viewer", logging.KeyDeviceID, deviceID)
		}
	}
}

// Register adds a viewer and returns it with the history it should replay
// first, oldest event first. filter selects devices; nil selects all.
func (h *Hub) Register(filter func(deviceID string) bool) (*Viewer, [][]byte) {
	v := &Viewer{
		send:   make(chan []byte, viewerBuffer),
		done:   make(chan struct{}),
		filter: filter,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		v.close()
		return v, nil
	}

	var frames []frame
	for deviceID, ring := range h.history {
		if v.wants(deviceID) {
			frames = append(frames, ring...)
		}
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].seq < frames[j].seq })
	replay := make([][]byte, len(frames))
	for i, f := range frames {
		replay[i] = f.data
	}

	h.viewers[v] = struct{}{}
	return v, replay
}

// Unregister removes v. It is safe to call more than once.
func (h *Hub) Unregister(v *Viewer) {
	h.mu.Lock()
	delete(h.viewers, v)
	h.mu.Unlock()
	v.close()
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close disconnects every viewer and stops recording.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for v := range h.viewers {
		delete(h.viewers, v)
		v.close()
	}
}
