/*
Package log provides structured logging for the orchestration core using
zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, a configurable global level, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every package without being passed around
  - Thread-safe for concurrent use

Log Levels:
  - Debug: Detailed debugging information (message envelopes, queue state)
  - Info: General informational messages (kernel lifecycle, decisions)
  - Warn: Potential issues (restart attempts, degraded mode)
  - Error: Operation failures (persistence errors, verification violations)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: filters messages below the threshold
  - JSONOutput: JSON vs human-readable console output
  - Output: io.Writer for the log destination (stdout, file)

Context Loggers:
  - WithComponent: tags every log line with the owning package/kernel
  - WithKernelID: tags log lines tied to one registered kernel's lifecycle
  - WithCorrelationID: tags log lines tracing one message envelope's
    effects as it propagates across components

# Usage

Initializing the logger:

	import "github.com/cuemby/warren-core/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("runtime started")
	log.Debug("checking kernel status")
	log.Warn("heartbeat miss threshold approaching")
	log.Error("ledger append failed")
	log.Fatal("cannot start without a writable ledger path")

Structured logging:

	log.Logger.Info().
		Str("proposal_id", "p1").
		Float64("confidence", 0.97).
		Msg("governance decision recorded")

Component loggers:

	busLog := log.WithComponent("bus")
	busLog.Info().Msg("message bus started")

	kernelLog := log.WithKernelID("scheduler")
	kernelLog.Warn().Int("attempt", 2).Msg("kernel restart attempt failed")

	corrLog := log.WithCorrelationID(msg.Metadata.CorrelationID)
	corrLog.Debug().Str("topic", string(msg.Type)).Msg("message published")

# Log Output Examples

JSON format (production):

	{"level":"info","component":"control","time":"2026-01-05T10:30:00Z","message":"control plane started","kernels":5}
	{"level":"warn","kernel_id":"scheduler","attempt":2,"time":"2026-01-05T10:30:01Z","message":"kernel restart attempt failed"}
	{"level":"error","component":"ledger","time":"2026-01-05T10:30:02Z","message":"ledger append failed","error":"disk full"}

Console format (development):

	2026-01-05T10:30:00Z INF control plane started component=control kernels=5
	2026-01-05T10:30:01Z WRN kernel restart attempt failed kernel_id=scheduler attempt=2
	2026-01-05T10:30:02Z ERR ledger append failed component=ledger error="disk full"

# Design Patterns

Global logger pattern: one package-level zerolog.Logger, initialized once
at process start, accessible everywhere without threading a parameter
through every constructor.

Context logger pattern: construct a child logger with the fields a
component's log lines always carry (component name, kernel ID, correlation
ID), and reuse it instead of repeating `.Str(...)` at every call site.

Structured logging pattern: typed fields (`.Str`, `.Int`, `.Err`) instead
of string interpolation, so log lines remain parseable and queryable.

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component/kernel-specific loggers once and reuse them
  - Log errors with .Err() so the error chain is preserved
  - Include correlation_id on anything triggered by a message envelope

Don't:
  - Log secrets, tokens, or decrypted secret payloads
  - Use Debug level in production
  - Log inside a tight per-message loop at Info or above
  - Concatenate strings into the message instead of using typed fields
*/
package log
