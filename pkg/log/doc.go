/*
Package log provides structured logging for jitbridge using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component and context loggers:

	sessionLog := log.WithComponent("session")
	sessionLog.Info().Str("udid", udid).Msg("session admitted")

	deviceLog := log.WithDeviceID(udid)
	deviceLog.Error().Err(err).Msg("provisioning failed")

Use Debug level only during development; Info is the production default.
*/
package log
