package cmd

import (
	"strings"

	"github.com/Iron-Ham/phonefleet/internal/console"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

// fleetControl is the part of the orchestrator the operator prompt drives.
type fleetControl interface {
	Stop(selectors ...string) []string
	Resume(selectors ...string) []string
	Snapshot() []worker.Info
}

const promptHelp = "commands: resume [device|glob...], stop [device|glob...], status, quit"

// prompt interprets operator input during an interactive run.
type prompt struct {
	fleet   fleetControl
	printer *console.Printer
}

// execute runs one input line and reports whether the operator asked to quit.
// Resume and stop without arguments apply to every device.
func (p *prompt) execute(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	if len(args) == 0 {
		args = []string{"*"}
	}

	switch verb {
	case "resume", "r":
		if resumed := p.fleet.Resume(args...); len(resumed) > 0 {
			p.printer.System("resumed %s", strings.Join(resumed, ", "))
		} else {
			p.printer.System("no paused device matches %s", strings.Join(args, " "))
		}
	case "stop", "s":
		if stopped := p.fleet.Stop(args...); len(stopped) > 0 {
			p.printer.System("stopping %s", strings.Join(stopped, ", "))
		} else {
			p.printer.System("no running device matches %s", strings.Join(args, " "))
		}
	case "status", "st":
		p.printer.Print(p.printer.Status(p.fleet.Snapshot()))
	case "quit", "exit", "q":
		return true
	case "help", "h", "?":
		p.printer.System(promptHelp)
	default:
		p.printer.System("unknown command %q; %s", verb, promptHelp)
	}
	return false
}
