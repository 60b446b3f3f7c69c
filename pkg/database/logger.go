package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pkglog "github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

const defaultSlowThreshold = 200 * time.Millisecond

// zerologLogger writes GORM logs through the request-scoped zerolog logger.
type zerologLogger struct {
	level logger.LogLevel
	slow  time.Duration
}

func newLogger(level logger.LogLevel, slow time.Duration) logger.Interface {
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	return &zerologLogger{level: level, slow: slow}
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (z *zerologLogger) LogMode(level logger.LogLevel) logger.Interface {
	copied := *z
	copied.level = level
	return &copied
}

func (z *zerologLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Info {
		l := pkglog.Ctx(ctx)
		l.Info().Msgf(msg, args...)
	}
}

func (z *zerologLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Warn {
		l := pkglog.Ctx(ctx)
		l.Warn().Msgf(msg, args...)
	}
}

func (z *zerologLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Error {
		l := pkglog.Ctx(ctx)
		l.Error().Msgf(msg, args...)
	}
}

// Trace reports failed and slow statements. Record-not-found is expected and
// never logged.
func (z *zerologLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	l := pkglog.Ctx(ctx)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && z.level >= logger.Error:
		sql, rows := fc()
		l.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query failed")
	case elapsed > z.slow && z.level >= logger.Warn:
		sql, rows := fc()
		l.Warn().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("slow query")
	case z.level >= logger.Info:
		sql, rows := fc()
		l.Debug().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query")
	}
}
