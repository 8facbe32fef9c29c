// Package logging provides structured diagnostic logging for planstore.
//
// This package wraps Go's log/slog with persistent context attributes
// (plan, batch, phase) and a size-rotated log file. It is separate from
// the audit trail: the audit trail is a per-plan domain record, while these
// logs are for operators troubleshooting the engine itself.
//
// # Features
//
//   - JSON or logfmt-style text records via slog handlers
//   - Levels debug, info, warn and error, parsed case-insensitively
//   - Size-based rotation with numbered generations and optional gzip
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [RotatingWriter]
// uses a mutex to protect file operations during rotation, and rotation is
// always performed before a write, never in the middle of one.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Options{
//	    File:     "/var/log/planstore.log",
//	    Level:    "info",
//	    Rotation: logging.DefaultRotationConfig(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	batchLogger := logger.WithPlan("/plans/checkout").WithBatch("batch-0190...")
//	batchLogger.Info("batch started", "operations", 3)
//
// # Rotation
//
// [RotatingWriter] rotates when the next write would push the file past its
// threshold. Generations are numbered .1 (newest) to .N (oldest); the oldest
// beyond MaxBackups is dropped. [Generations] lists them oldest first, which
// is the order readers need for a chronological scan.
package logging
