// Package obslog provides the core's structured logging, generalizing the
// category-scoped logger and production zap bootstrap of the teacher
// codebase into a single per-component logging facade.
package obslog

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment selects the zap base configuration.
type Environment int

const (
	Prod Environment = iota
	Dev
)

// Category names a component's logging scope. One Logger per category is
// built from the same underlying *zap.Logger core.
type Category string

const (
	CategoryCID        Category = "cid"
	CategoryGraph      Category = "graph"
	CategoryStorePlan  Category = "storeplan"
	CategoryStoreEngine Category = "storeengine"
	CategoryTxLog      Category = "txlog"
	CategoryMVCC       Category = "mvcc"
	CategoryRewrite    Category = "rewrite"
	CategoryProjection Category = "projection"
	CategoryQuery      Category = "query"
	CategoryAuthz      Category = "authz"
)

// Logger wraps a *zap.Logger scoped to a Category.
type Logger struct {
	base *zap.Logger
	cat  Category
}

// New builds the root zap logger for the given environment. Dev enables
// debug level and caller info; Prod mirrors the teacher's
// zap.NewProductionConfig() bootstrap.
func New(env Environment, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if env == Dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Noop returns a Logger that discards everything, for callers (tests,
// optional dependencies) that don't want to thread a real logger through.
func Noop() *Logger {
	return &Logger{base: zap.NewNop(), cat: ""}
}

// With scopes base to a Category, attaching it as a structured field so
// every line a component emits is filterable by category the way the
// teacher's per-category log files were.
func With(base *zap.Logger, cat Category, fields ...zap.Field) *Logger {
	scoped := base.With(append([]zap.Field{zap.String("category", string(cat))}, fields...)...)
	return &Logger{base: scoped, cat: cat}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }

// Timer records the duration of an operation at Debug level when Stop is
// called, generalizing the teacher's logging.StartTimer helper.
type Timer struct {
	log   *Logger
	op    string
	start time.Time
}

func StartTimer(l *Logger, op string) *Timer {
	return &Timer{log: l, op: op, start: time.Now()}
}

func (t *Timer) Stop() {
	t.log.Debug("operation completed", zap.String("op", t.op), zap.Duration("elapsed", time.Since(t.start)))
}
