package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

const slowQueryThreshold = 250 * time.Millisecond

// gormLogger forwards slow statements and unexpected driver errors to the
// service logger. Row-level chatter is dropped.
type gormLogger struct {
	logg *logger.Logger
}

func newGormLogger(logg *logger.Logger) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return gormLogger{logg: logg}
}

func (g gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g gormLogger) Info(context.Context, string, ...any) {}

// ParamsFilter keeps bound values such as pickup code hashes out of logged SQL.
func (g gormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}

func (g gormLogger) Warn(ctx context.Context, msg string, _ ...any) {
	g.logg.Warn(ctx, "gorm: "+msg)
}

func (g gormLogger) Error(ctx context.Context, msg string, _ ...any) {
	g.logg.Error(ctx, "gorm: "+msg, nil)
}

func (g gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, context.Canceled)
	if !failed && elapsed < slowQueryThreshold {
		return
	}

	query, rows := fc()
	ctx = g.logg.WithFields(ctx, map[string]any{
		"sql":         query,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	if failed {
		g.logg.Error(ctx, "db.query_failed", err)
		return
	}
	g.logg.Warn(ctx, "db.slow_query")
}
