package transport

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/next-unicorn-dev/canvas/logging"
)

// WatermillLogger adapts logging.Logger to watermill.LoggerAdapter.
type WatermillLogger struct {
	logger logging.Logger
	fields watermill.LogFields
}

// NewWatermillLogger wraps logger.
func NewWatermillLogger(logger logging.Logger) *WatermillLogger {
	return &WatermillLogger{logger: logging.OrNoOp(logger)}
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	args := w.args(fields)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	w.logger.Error(msg, args...)
}

// Info maps to Debug because watermill is chatty.
func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, w.args(fields)...)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, w.args(fields)...)
}

// Trace is dropped.
func (w *WatermillLogger) Trace(string, watermill.LogFields) {}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: w.logger, fields: w.fields.Add(fields)}
}

func (w *WatermillLogger) args(fields watermill.LogFields) []any {
	all := w.fields.Add(fields)
	args := make([]any, 0, 2*len(all))
	for k, v := range all {
		args = append(args, k, v)
	}
	return args
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)
