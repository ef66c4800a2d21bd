// Package console renders the orchestrator's event stream for a terminal.
//
// Each device event becomes one line prefixed with its device ID and a
// label (THINKING, ACTION, SYS, ERROR, FINISHED, TAKEOVER, STOPPED). Labels
// are colored when the output is a terminal; lines are cut to the terminal
// width without breaking escape sequences. Screenshots are summarized by
// their decoded size rather than printed.
package console
