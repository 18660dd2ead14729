/*
Package log provides structured logging for hutch using zerolog.

The package wraps zerolog with a globally initialized logger and context
helpers so every subsystem logs with the same shape. JSON output is the
production default; console output is for interactive runs.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("provision")
	logger.Info().Str("image", img).Msg("pulling image")

Context helpers attach the fields that make node logs greppable:

	log.WithComponent("telemetry")
	log.WithWorkloadID(id)
	log.WithContainerID(cid)

All loggers derived from the global instance share its level and output;
Init is called once at daemon startup before any other subsystem runs.
*/
package log
