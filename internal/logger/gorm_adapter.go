package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// GormLogger adapts Logger to gorm's logger.Interface. Statements are
// logged at trace level, slow statements and failures at warn.
type GormLogger struct {
	logger        Logger
	slowThreshold time.Duration
}

var _ gorm_logger.Interface = (*GormLogger)(nil)

// NewGormLogger creates the adapter. A zero slowThreshold disables slow query warnings.
func NewGormLogger(l Logger, slowThreshold time.Duration) *GormLogger {
	if l == nil {
		l = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLogger{logger: l, slowThreshold: slowThreshold}
}

// LogMode returns the adapter unchanged; levels come from the module configuration.
func (g *GormLogger) LogMode(_ gorm_logger.LogLevel) gorm_logger.Interface {
	return g
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	g.logger.WithContext(ctx).Debug(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	g.logger.WithContext(ctx).Warn(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	g.logger.WithContext(ctx).Error(fmt.Sprintf(msg, data...))
}

// Trace records one executed statement.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	log := g.logger.WithContext(ctx)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		log.Warn("query error",
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed),
			Error(err))
	case g.slowThreshold > 0 && elapsed > g.slowThreshold:
		log.Warn("slow query",
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed),
			Duration("threshold", g.slowThreshold))
	default:
		log.Trace("sql query",
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed))
	}
}
