package logger

import (
	"time"

	"go.uber.org/zap"
)

// DefaultSlowQuery is the query duration above which LogDatabaseQuery warns
const DefaultSlowQuery = 100 * time.Millisecond

// PerformanceLogger logs operation timings, escalating slow ones to warnings
type PerformanceLogger struct {
	logger    *zap.Logger
	slowQuery time.Duration
}

// NewPerformanceLogger creates a performance logger. A non-positive
// slowQuery uses DefaultSlowQuery.
func NewPerformanceLogger(logger *zap.Logger, slowQuery time.Duration) *PerformanceLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slowQuery <= 0 {
		slowQuery = DefaultSlowQuery
	}
	return &PerformanceLogger{
		logger:    logger.With(zap.String("log_type", "performance")),
		slowQuery: slowQuery,
	}
}

// Timer represents a performance timer
type Timer struct {
	logger    *zap.Logger
	operation string
	slow      time.Duration
	startTime time.Time
	fields    []zap.Field
}

// StartTimer starts a timer for operation. Stop warns when it ran longer than slow.
func (p *PerformanceLogger) StartTimer(operation string, slow time.Duration, fields ...zap.Field) *Timer {
	return &Timer{
		logger:    p.logger,
		operation: operation,
		slow:      slow,
		startTime: time.Now(),
		fields:    fields,
	}
}

// Stop logs the elapsed time and returns it
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	fields := t.withTiming(duration)

	if t.slow > 0 && duration > t.slow {
		t.logger.Warn("Slow operation", fields...)
	} else {
		t.logger.Debug("Operation completed", fields...)
	}
	return duration
}

// StopWithError logs the elapsed time with err, or behaves like Stop when err is nil
func (t *Timer) StopWithError(err error) time.Duration {
	if err == nil {
		return t.Stop()
	}
	duration := time.Since(t.startTime)
	t.logger.Error("Operation failed", append(t.withTiming(duration), zap.Error(err))...)
	return duration
}

func (t *Timer) withTiming(duration time.Duration) []zap.Field {
	fields := make([]zap.Field, 0, len(t.fields)+3)
	fields = append(fields, t.fields...)
	return append(fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)
}

// LogDatabaseQuery logs a database operation with its execution time
func (p *PerformanceLogger) LogDatabaseQuery(operation, table string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("query_type", "database"),
		zap.String("operation", operation),
		zap.String("table", table),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}

	switch {
	case err != nil:
		p.logger.Error("Database query failed", append(fields, zap.Error(err))...)
	case duration > p.slowQuery:
		p.logger.Warn("Slow database query", fields...)
	default:
		p.logger.Debug("Database query executed", fields...)
	}
}
