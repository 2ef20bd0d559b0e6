// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	regexp "github.com/wasilibs/go-re2"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if scanID := ScanIDFromContext(ctx); scanID != "" {
		fields = append(fields, zap.String("scan.id", scanID))
	}
	if target := ScanTargetFromContext(ctx); target != "" {
		fields = append(fields, zap.String("scan.target", target))
	}

	return fields
}

type scanIDCtxKey struct{}
type scanTargetCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a scan ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// ScanIDFromContext extracts the scan ID from context.
func ScanIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(scanIDCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithScanID adds the scan ID to context.
// Panics if scanID is empty or contains invalid characters.
func WithScanID(ctx context.Context, scanID string) context.Context {
	if err := validateID(scanID, "scanID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, scanIDCtxKey{}, scanID)
}

// ScanTargetFromContext extracts the scanned location from context.
func ScanTargetFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(scanTargetCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithScanTarget records the repository location or directory being scanned.
// The caller is responsible for stripping credentials from URLs.
func WithScanTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, scanTargetCtxKey{}, target)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
