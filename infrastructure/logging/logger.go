// Package logging wraps logrus with the trace-id plumbing and the
// structured event helpers the rest of the daemon logs through.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey types the context keys this package owns.
type ContextKey string

const (
	// TraceIDKey carries the per-request or per-fetch trace id.
	TraceIDKey ContextKey = "trace_id"
	// ActorKey carries the analyst or automation identity behind an
	// interaction (view/escalate/dismiss) when one is known.
	ActorKey ContextKey = "actor"
	// SourceIDKey carries the source a fetch or ingest originated from.
	SourceIDKey ContextKey = "source_id"
)

// Logger is a logrus.Logger bound to a component name. Every entry it
// emits carries a "component" field so one process's collector, decay
// worker, and ops server logs stay separable.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the named component. level falls back to info
// when unparseable; format "json" selects the JSON formatter, anything
// else gets the text formatter.
func New(component, level, format string) *Logger {
	l := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL and LOG_FORMAT, defaulting
// to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// SetOutput redirects the logger, mainly for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

// WithContext returns an entry carrying the component plus whatever
// trace/actor/source identifiers the context holds.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(ActorKey); v != nil {
		entry = entry.WithField("actor", v)
	}
	if v := ctx.Value(SourceIDKey); v != nil {
		entry = entry.WithField("source_id", v)
	}
	return entry
}

// WithTraceID returns an entry tagged with an explicit trace id.
func (l *Logger) WithTraceID(traceID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"trace_id":  traceID,
	})
}

// WithFields returns an entry with caller-supplied fields plus the
// component.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry with the error string attached.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// Debug logs at debug level with optional fields.
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	if l.Logger.Level >= logrus.DebugLevel {
		l.WithContext(ctx).WithFields(fields).Debug(message)
	}
}

// Info logs at info level with optional fields.
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

// Warn logs at warn level with optional fields.
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

// Error logs at error level; err may be nil.
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

// Fatal logs and exits.
func (l *Logger) Fatal(ctx context.Context, message string, err error) {
	l.WithContext(ctx).WithError(err).Fatal(message)
}

// LogRequest records one served HTTP request on the operator surface.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("HTTP request")
}

// LogFetch records one completed fetch attempt against a source.
func (l *Logger) LogFetch(ctx context.Context, sourceID, kind, outcome string, items int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"source_id":   sourceID,
		"kind":        kind,
		"outcome":     outcome,
		"items":       items,
		"duration_ms": duration.Milliseconds(),
	}).Debug("fetch completed")
}

// LogTierMove records an item moving between store tiers.
func (l *Logger) LogTierMove(ctx context.Context, itemID, from, to, reason string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"item_id": itemID,
		"from":    from,
		"to":      to,
		"reason":  reason,
	}).Debug("tier move")
}

// LogSecurityEvent records an auth or abuse signal on the operator
// surface at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := logrus.Fields{"event_type": eventType}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID reads the trace id off the context, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActor stores an interaction actor on the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor reads the actor off the context, or "".
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(ActorKey).(string); ok {
		return v
	}
	return ""
}

// WithSourceID stores the originating source id on the context.
func WithSourceID(ctx context.Context, sourceID string) context.Context {
	return context.WithValue(ctx, SourceIDKey, sourceID)
}

// GetSourceID reads the source id off the context, or "".
func GetSourceID(ctx context.Context) string {
	if v, ok := ctx.Value(SourceIDKey).(string); ok {
		return v
	}
	return ""
}
