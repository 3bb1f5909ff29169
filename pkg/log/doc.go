/*
Package log provides structured logging for grove using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for the common logging patterns used across the reconciliation
loop: tagging a log line with the container it concerns and, while a
Computation is running, the computation's own id.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	compLog := log.WithComputation(container.FullName, computation.ID)
	compLog.Info().Msg("reconciliation started")
	compLog.Error().Err(err).Msg("child creation failed")

# Log Levels

Debug is for development and troubleshooting only; Info is the default
production level; Warn and Error should stay low-volume enough to support
alerting on rate. Fatal logs and calls os.Exit(1) — reserved for startup
failures grove cannot recover from (e.g. an unreadable data directory).

# Design

A single package-level zerolog.Logger is initialized once via Init() and
read from all packages without being passed around explicitly. Components
that need durable context (which container, which computation) create a
child logger once via WithComponent/WithContainer/WithComputation and pass
that value down, rather than re-attaching fields at every call site.
*/
package log
