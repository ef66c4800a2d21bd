package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed log line.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects log entries. Zero-valued fields do not filter.
// All set fields must match.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level           string
	StartTime       time.Time
	EndTime         time.Time
	RunID           string
	DeviceID        string
	Component       string
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// AggregateLogs reads the active log file in dir together with its rotated
// backups (compressed or not) and returns every parsable entry sorted by time.
// Lines that are not valid JSON are skipped.
func AggregateLogs(dir string) ([]LogEntry, error) {
	active := filepath.Join(dir, FileName)
	if _, err := os.Stat(active); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	var entries []LogEntry
	for _, path := range logFiles(active) {
		got, err := readLogFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, got...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// logFiles lists the backups of active from oldest to newest, then active.
func logFiles(active string) []string {
	var backups []string
	for n := 1; ; n++ {
		p := BackupPath(active, n)
		if _, err := os.Stat(p); err == nil {
			backups = append(backups, p)
			continue
		}
		if _, err := os.Stat(p + ".gz"); err == nil {
			backups = append(backups, p+".gz")
			continue
		}
		break
	}
	files := make([]string, 0, len(backups)+1)
	for i := len(backups) - 1; i >= 0; i-- {
		files = append(files, backups[i])
	}
	return append(files, active)
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed log %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	const maxLine = 1 << 20
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	for k, v := range raw {
		s, _ := v.(string)
		switch k {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				entry.Timestamp = t
			}
		case "level":
			entry.Level = s
		case "msg":
			entry.Message = s
		case KeyRunID:
			entry.RunID = s
		case KeyDeviceID:
			entry.DeviceID = s
		case KeyComponent:
			entry.Component = s
		default:
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		want, okWant := levelOrder[strings.ToUpper(f.Level)]
		got, okGot := levelOrder[e.Level]
		if okWant && okGot && got < want {
			return false
		}
	}
	switch {
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.RunID != "" && e.RunID != f.RunID:
		return false
	case f.DeviceID != "" && e.DeviceID != f.DeviceID:
		return false
	case f.Component != "" && e.Component != f.Component:
		return false
	case f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains):
		return false
	}
	return true
}

// ExportFormats lists the formats accepted by WriteEntries.
func ExportFormats() []string {
	return []string{"json", "text", "csv"}
}

// WriteEntries renders entries to w as json, text or csv.
func WriteEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		return writeText(w, entries)
	case "csv":
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: %s)",
			format, strings.Join(ExportFormats(), ", "))
	}
}

// ExportLogEntries writes entries to outputPath in the given format.
func ExportLogEntries(entries []LogEntry, outputPath string, format string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteEntries(f, entries, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeText emits "[time] LEVEL device - message (run=.., component=..) {attrs}".
func writeText(w io.Writer, entries []LogEntry) error {
	for _, e := range entries {
		parts := []string{"[" + e.Timestamp.Format("2006-01-02 15:04:05.000") + "]", e.Level}
		if e.DeviceID != "" {
			parts = append(parts, e.DeviceID)
		}
		parts = append(parts, "-", e.Message)

		var ctx []string
		if e.RunID != "" {
			ctx = append(ctx, "run="+e.RunID)
		}
		if e.Component != "" {
			ctx = append(ctx, "component="+e.Component)
		}
		if len(ctx) > 0 {
			parts = append(parts, "("+strings.Join(ctx, ", ")+")")
		}
		if len(e.Attrs) > 0 {
			b, _ := json.Marshal(e.Attrs)
			parts = append(parts, string(b))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "level", "message", "run_id", "device_id", "component", "attrs"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		rec := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level,
			e.Message,
			e.RunID,
			e.DeviceID,
			e.Component,
			attrs,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
