// Package takeover provides the rendezvous that lets a running agent hand a
// device to a human and wait, without polling, until the human is done.
//
// A Gate is owned by one execution worker. The agent goroutine parks on it
// when the agent asks for manual takeover; an operator's resume signals it;
// cancellation force-releases it so a parked agent can never outlive a stop.
package takeover

import "sync"

// State is the gate's current position.
type State int

const (
	// Open means no goroutine is parked.
	Open State = iota
	// Parked means the agent goroutine is blocked waiting for a resume.
	Parked
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Parked:
		return "parked"
	default:
		return "unknown"
	}
}

// Outcome tells a parked goroutine why it was woken.
type Outcome int

const (
	// Resumed means an operator signalled the gate.
	Resumed Outcome = iota
	// Released means the gate was force-released by cancellation.
	Released
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	if o == Resumed {
		return "resumed"
	}
	return "released"
}

// NotifyFunc is called on the parking goroutine after the gate has become
// Parked and before the goroutine blocks.
type NotifyFunc func(reason string)

// episode is one Parked period. done is closed exactly once.
type episode struct {
	done    chan struct{}
	outcome Outcome
}

// Gate is a resettable one-shot rendezvous. The zero value is not usable;
// create gates with New. All methods are safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	state    State
	current  *episode
	released bool
	episodes int
	notify   NotifyFunc
}

// New creates an Open gate. notify may be nil.
func New(notify NotifyFunc) *Gate {
	return &Gate{notify: notify}
}

// Park blocks the caller until Signal or ForceRelease. The gate is marked
// Parked before notify runs, so a Signal issued by anyone who observed the
// notification wakes this Park. After ForceRelease, Park returns Released
// without blocking or notifying.
//
// A Park issued while another goroutine is already parked joins the same
// episode instead of starting a second one.
func (g *Gate) Park(reason string) Outcome {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return Released
	}
	if g.state == Parked {
		ep := g.current
		g.mu.Unlock()
		<-ep.done
		return ep.outcome
	}

	ep := &episode{done: make(chan struct{})}
	g.current = ep
	g.state = Parked
	g.episodes++
	notify := g.notify
	g.mu.Unlock()

	if notify != nil {
		notify(reason)
	}

	<-ep.done
	return ep.outcome
}

// Signal wakes a parked goroutine with Resumed and reopens the gate.
// It reports whether anything was woken; on an Open gate it does nothing
// and has no effect on a later Park.
func (g *Gate) Signal() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wakeLocked(Resumed)
}

// ForceRelease wakes a parked goroutine with Released and latches the gate
// so that every later Park returns Released immediately. Idempotent.
func (g *Gate) ForceRelease() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = true
	g.wakeLocked(Released)
}

func (g *Gate) wakeLocked(outcome Outcome) bool {
	if g.state != Parked {
		return false
	}
	g.current.outcome = outcome
	close(g.current.done)
	g.current = nil
	g.state = Open
	return true
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsReleased reports whether ForceRelease has been called.
func (g *Gate) IsReleased() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// Episodes returns how many times the gate has entered Parked.
func (g *Gate) Episodes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.episodes
}
