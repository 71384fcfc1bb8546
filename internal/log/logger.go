package log

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// Logger provides structured logging with slog
type Logger struct {
	slog   *slog.Logger
	config Config
}

// New creates a new Logger with the given configuration
func New(config Config) *Logger {
	var out io.Writer = os.Stderr
	if config.Output != nil {
		out = config.Output
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	base := slog.New(handler)
	if config.ServiceName != "" {
		base = base.With("service", config.ServiceName)
	}
	if config.ServiceVersion != "" {
		base = base.With("version", config.ServiceVersion)
	}

	return &Logger{
		slog:   base,
		config: config,
	}
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *Logger {
	return &Logger{
		slog:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: Config{Level: LevelError, Output: io.Discard},
	}
}

// With returns a new Logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
	}
}

// WithComponent tags entries with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithError adds error details to the logger.
// Coded errors contribute their code and suggestions.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errorAttrs(err)...)
}

// WithContext attaches the active trace and span IDs, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// DebugContext logs a debug message with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// InfoContext logs an info message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// WarnContext logs a warning message with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// LogError logs err at error level with its code, suggestions and cause.
func (l *Logger) LogError(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	l.slog.ErrorContext(ctx, msg, errorAttrs(err)...)
}

// Enabled returns whether the logger is enabled for the given level
func (l *Logger) Enabled(ctx context.Context, level Level) bool {
	return l.slog.Enabled(ctx, level.slogLevel())
}

// Slog exposes the underlying *slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

func errorAttrs(err error) []any {
	var wfErr *errors.WorkflowError
	if !stderrors.As(err, &wfErr) {
		return []any{"error", err.Error()}
	}

	args := []any{
		"error", wfErr.Message,
		"error_code", string(wfErr.Code),
	}
	if len(wfErr.Suggestions) > 0 {
		args = append(args, "suggestions", wfErr.Suggestions)
	}
	if wfErr.DocsURL != "" {
		args = append(args, "docs_url", wfErr.DocsURL)
	}
	if wfErr.Cause != nil {
		args = append(args, "cause", wfErr.Cause.Error())
	}
	return args
}
