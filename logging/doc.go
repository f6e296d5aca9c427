// Package logging defines the Logger interface used by every component and
// its adapters:
//
//   - StructuredLogger: slog backed, JSON or text, with component/session scope
//   - ZerologAdapter: zerolog backed, used by the canvasd command
//   - NoOpLogger: silent default for tests and embedded use
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	svc := generation.New(func(o *generation.Options) { o.Logger = logger.WithComponent("generation") })
//
// Message keys are dotted event names (orchestrator.handoff,
// stream.tool_call_arguments.orphan); details go in key/value pairs.
package logging
