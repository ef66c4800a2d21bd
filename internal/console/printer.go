package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ValidColorModes returns the accepted color modes.
func ValidColorModes() []string {
	return []string{ColorAuto, ColorAlways, ColorNever}
}

// Options controls how events are printed.
type Options struct {
	// Color is one of ColorAuto, ColorAlways or ColorNever.
	Color string
	// Timestamps prefixes each line with the event's wall clock time.
	Timestamps bool
	// Width cuts lines to this many columns. Zero uses the terminal
	// width when the output is a terminal and disables cutting otherwise.
	Width int
}

// Printer writes one line per device event. It is safe for concurrent use
// and its Handle method can be subscribed to an event.Bus directly.
type Printer struct {
	mu         sync.Mutex
	w          io.Writer
	styled     bool
	width      int
	timestamps bool
	st         styles
}

type fdWriter interface {
	Fd() uintptr
}

// New creates a Printer writing to w.
func New(w io.Writer, opts Options) *Printer {
	tty := false
	width := opts.Width
	if f, ok := w.(fdWriter); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			tty = true
			if width == 0 {
				if cols, _, err := term.GetSize(fd); err == nil {
					width = cols
				}
			}
		}
	}

	styled := false
	switch opts.Color {
	case ColorAlways:
		styled = true
	case ColorNever:
	default:
		styled = tty && os.Getenv("NO_COLOR") == ""
	}

	r := lipgloss.NewRenderer(w)
	if opts.Color == ColorAlways {
		r.SetColorProfile(termenv.TrueColor)
	}

	return &Printer{
		w:          w,
		styled:     styled,
		width:      width,
		timestamps: opts.Timestamps,
		st:         newStyles(r),
	}
}

// Styled reports whether output is colored.
func (p *Printer) Styled() bool { return p.styled }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Handle prints e if it is a device event.
func (p *Printer) Handle(e event.Event) {
	line := p.Format(e)
	if line == "" {
		return
	}
	p.writeLine(line)
}

// Task prints the operator's task the way the desktop client echoed it.
func (p *Printer) Task(task string) {
	p.writeLine(p.render(p.st.operator, "ME: "+singleLine(task)))
}

// System prints a line that does not belong to a device.
func (p *Printer) System(format string, args ...any) {
	p.writeLine(p.render(p.st.system, "SYS: "+singleLine(fmt.Sprintf(format, args...))))
}

// Print writes text as is, followed by a newline.
func (p *Printer) Print(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, text+"\n")
}

func (p *Printer) writeLine(line string) {
	line = truncate(line, p.width)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, line+"\n")
}

// Format renders e as one line without a trailing newline. Events that are
// not device events render as "".
func (p *Printer) Format(e event.Event) string {
	de, ok := e.(event.DeviceEvent)
	if !ok {
		return ""
	}

	var body string
	switch ev := e.(type) {
	case event.ThinkingEvent:
		body = p.render(p.st.thinking, "THINKING: "+singleLine(ev.Text))
	case event.ActionEvent:
		body = p.render(p.st.action, "ACTION: "+formatAction(ev.Action))
		if ev.Screenshot != "" {
			body += " " + p.render(p.st.system, fmt.Sprintf("(screenshot %s)", formatBytes(screenshotSize(ev.Screenshot))))
		}
	case event.LogEvent:
		body = p.render(p.st.system, "SYS: "+singleLine(ev.Text))
	case event.ErrorEvent:
		text := "ERROR: " + singleLine(ev.Text)
		if ev.Fatal {
			text += " (fatal)"
		}
		body = p.render(p.st.errorText, text)
	case event.FinishedEvent:
		body = p.render(p.st.finished, "FINISHED: "+singleLine(ev.Result))
	case event.TakeoverRequestedEvent:
		body = p.render(p.st.takeover, "TAKEOVER: "+singleLine(ev.Message)) +
			" " + p.render(p.st.system, fmt.Sprintf("(resume %s)", de.Device()))
	case event.CancelledEvent:
		body = p.render(p.st.errorText, "STOPPED: "+singleLine(ev.Reason))
	default:
		body = p.render(p.st.system, e.EventType())
	}

	var b strings.Builder
	if p.timestamps {
		b.WriteString(p.render(p.st.timestamp, e.Timestamp().Format(time.TimeOnly)))
		b.WriteByte(' ')
	}
	b.WriteString(p.render(p.st.device, "["+de.Device()+"]"))
	b.WriteByte(' ')
	b.WriteString(body)
	return b.String()
}

// formatAction renders an action map as compact JSON with sorted keys.
func formatAction(action map[string]any) string {
	if len(action) == 0 {
		return "{}"
	}
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Sprint(action)
	}
	return string(data)
}

// Status renders a table of worker snapshots.
func (p *Printer) Status(infos []worker.Info) string {
	if len(infos) == 0 {
		return p.render(p.st.system, "no active devices")
	}

	devW, stateW := len("DEVICE"), len("STATE")
	for _, info := range infos {
		devW = max(devW, lipgloss.Width(info.DeviceID))
		stateW = max(stateW, len(info.State.String()))
	}

	var b strings.Builder
	header := fmt.Sprintf("%-*s  %-*s  %-8s  %s", devW, "DEVICE", stateW, "STATE", "ELAPSED", "DETAIL")
	b.WriteString(p.render(p.st.header, header))
	for _, info := range infos {
		state := info.State.String()
		detail := info.Task
		switch {
		case info.Error != "":
			detail = info.Error
		case info.Result != "":
			detail = info.Result
		}
		line := fmt.Sprintf("%-*s  %s  %-8s  %s",
			devW, info.DeviceID,
			p.render(p.st.state(state), fmt.Sprintf("%-*s", stateW, state)),
			elapsed(info),
			singleLine(detail),
		)
		b.WriteByte('\n')
		b.WriteString(truncate(line, p.width))
	}
	return b.String()
}

func elapsed(info worker.Info) string {
	if info.StartedAt.IsZero() {
		return "-"
	}
	end := info.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(info.StartedAt).Truncate(time.Second).String()
}
