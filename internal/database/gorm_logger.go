package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slogGormLogger adapts an slog.Logger to GORM's logger.Interface. Queries
// are emitted at debug level and only formatted when that level is enabled.
type slogGormLogger struct {
	log *slog.Logger
}

func newGormLogger(l *slog.Logger) slogGormLogger {
	return slogGormLogger{log: l.With(slog.String("component", "gorm"))}
}

// LogMode is a no-op; level filtering is handled by slog.
func (l slogGormLogger) LogMode(logger.LogLevel) logger.Interface { return l }

// Info logs informational messages from GORM.
func (l slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
}

// Warn logs warning messages from GORM.
func (l slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
}

// Error logs error messages from GORM.
func (l slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
}

// maxSQLLength is the longest SQL string logged before it is shortened.
const maxSQLLength = 200

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLength {
		return sql
	}
	half := (maxSQLLength - 3) / 2
	return sql[:half] + "..." + sql[len(sql)-half:]
}

// Trace is called by GORM after every SQL operation. ErrRecordNotFound is the
// normal "no rows" outcome of First and is logged with successful queries.
func (l slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		sql, rows := fc()
		l.log.ErrorContext(ctx, "gorm query error",
			slog.String("sql", truncateSQL(sql)),
			slog.Int64("rows", rows),
			slog.Duration("duration", elapsed),
			slog.Any("error", err),
		)
		return
	}

	if !l.log.Enabled(ctx, slog.LevelDebug) {
		return
	}

	sql, rows := fc()
	l.log.DebugContext(ctx, "gorm query",
		slog.String("sql", truncateSQL(sql)),
		slog.Int64("rows", rows),
		slog.Duration("duration", elapsed),
	)
}
