package console

import "github.com/charmbracelet/lipgloss"

// Colors follow the desktop client's log pane.
var (
	OperatorColor = lipgloss.Color("#007AFF")
	ThinkingColor = lipgloss.Color("#808080")
	ActionColor   = lipgloss.Color("#32CD32")
	SystemColor   = lipgloss.Color("#AAAAAA")
	ErrorColor    = lipgloss.Color("#FF3B30")
	FinishedColor = lipgloss.Color("#FFD700")
	TakeoverColor = lipgloss.Color("#FB923C")
	DeviceColor   = lipgloss.Color("#60A5FA")
	MutedColor    = lipgloss.Color("#9CA3AF")
)

// styles holds the styles bound to one renderer.
type styles struct {
	device    lipgloss.Style
	timestamp lipgloss.Style
	operator  lipgloss.Style
	thinking  lipgloss.Style
	action    lipgloss.Style
	system    lipgloss.Style
	errorText lipgloss.Style
	finished  lipgloss.Style
	takeover  lipgloss.Style
	header    lipgloss.Style
	states    map[string]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		device:    r.NewStyle().Foreground(DeviceColor).Bold(true),
		timestamp: r.NewStyle().Foreground(MutedColor),
		operator:  r.NewStyle().Foreground(OperatorColor).Bold(true),
		thinking:  r.NewStyle().Foreground(ThinkingColor).Italic(true),
		action:    r.NewStyle().Foreground(ActionColor),
		system:    r.NewStyle().Foreground(SystemColor),
		errorText: r.NewStyle().Foreground(ErrorColor),
		finished:  r.NewStyle().Foreground(FinishedColor).Bold(true),
		takeover:  r.NewStyle().Foreground(TakeoverColor).Bold(true),
		header:    r.NewStyle().Foreground(MutedColor).Bold(true),
		states: map[string]lipgloss.Style{
			"starting":  r.NewStyle().Foreground(MutedColor),
			"running":   r.NewStyle().Foreground(ActionColor),
			"paused":    r.NewStyle().Foreground(TakeoverColor),
			"finished":  r.NewStyle().Foreground(FinishedColor),
			"failed":    r.NewStyle().Foreground(ErrorColor),
			"cancelled": r.NewStyle().Foreground(ErrorColor),
		},
	}
}

func (s styles) state(name string) lipgloss.Style {
	if st, ok := s.states[name]; ok {
		return st
	}
	return s.system
}
