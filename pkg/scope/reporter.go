package scope

import (
	"context"
	"log/slog"
)

// ReportContext is the structured context attached to a reported failure.
type ReportContext struct {
	// Err is the failure being reported.
	Err error

	// EventName is the event involved, or "" for destroy callbacks.
	EventName string
}

// Reporter receives failures that lifecycle code absorbs instead of returning.
// Implementations must not panic.
type Reporter interface {
	Report(message string, ctx ReportContext)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(message string, ctx ReportContext)

// Report calls f(message, ctx).
func (f ReporterFunc) Report(message string, ctx ReportContext) {
	f(message, ctx)
}

// NopReporter discards every report.
var NopReporter Reporter = ReporterFunc(func(string, ReportContext) {})

// slogReporter reports failures as structured log records.
type slogReporter struct {
	logger *slog.Logger
}

// SlogReporter returns a Reporter that logs at error level on logger.
// A nil logger uses slog.Default() at report time.
func SlogReporter(logger *slog.Logger) Reporter {
	return &slogReporter{logger: logger}
}

// Report implements Reporter.
func (r *slogReporter) Report(message string, ctx ReportContext) {
	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.Any("error", ctx.Err)}
	if ctx.EventName != "" {
		attrs = append(attrs, slog.String("event", ctx.EventName))
	}
	logger.LogAttrs(context.Background(), slog.LevelError, message, attrs...)
}
