package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for pipeline events

// LogViolation logs a classified violation with its routing decision
func (l *Logger) LogViolation(ctx context.Context, rule, resourceID, accountID string, severity string) {
	l.WithContext(ctx).Info().
		Str("rule", rule).
		Str("resource_id", resourceID).
		Str("account_id", accountID).
		Str("severity", severity).
		Msg("processing violation")
}

// LogExceptionApplied logs a waived violation
func (l *Logger) LogExceptionApplied(ctx context.Context, rule, resourceID, reason, approvedBy string) {
	l.WithContext(ctx).Info().
		Str("rule", rule).
		Str("resource_id", resourceID).
		Str("reason", reason).
		Str("approved_by", approvedBy).
		Msg("approved exception exists, skipping enforcement")
}

// LogRemediation logs an executed remediation action
func (l *Logger) LogRemediation(ctx context.Context, rule, resourceID, accountID, environment string) {
	l.WithContext(ctx).Info().
		Str("rule", rule).
		Str("resource_id", resourceID).
		Str("account_id", accountID).
		Str("environment", environment).
		Msg("remediation executed")
}

// LogRemediationBlocked logs a safety veto
func (l *Logger) LogRemediationBlocked(ctx context.Context, rule, resourceID, environment, reason string) {
	l.WithContext(ctx).Warn().
		Str("rule", rule).
		Str("resource_id", resourceID).
		Str("environment", environment).
		Str("reason", reason).
		Msg("remediation blocked by safety policy")
}

// LogStoreError logs a failed store operation
func (l *Logger) LogStoreError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("store operation failed")
}
