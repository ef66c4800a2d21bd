// Package logging provides structured logging for phonefleet.
//
// Every line is a JSON object produced by log/slog. Child loggers add the
// run, device and component attributes so the interleaved output of many
// concurrently driven devices can be separated again afterwards.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Run, device and component attribution
//   - Size-based rotation with optional gzip compression
//   - Aggregation across rotated files, filtering and export (json, text, csv)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the parent's writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.Rotation)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	devLog := logger.WithRun(runID).WithDevice("emulator-5554")
//	devLog.Info("agent started", "max_steps", 50)
//
// # Reading Logs Back
//
//	entries, err := logging.AggregateLogs(dir)
//	entries = logging.FilterLogs(entries, logging.LogFilter{DeviceID: "emulator-5554", Level: "WARN"})
//	err = logging.WriteEntries(os.Stdout, entries, "text")
package logging
