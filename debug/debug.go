// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Process logging facade
//
// Purpose:
//   - Keeps the short DropMessage/DropError call shape used across the roles.
//   - Routes everything through one zap logger configured at process start.
//
// Notes:
//   - Until Init is called, a development console logger is used so that
//     early failures (bad config, missing segment) are still visible.
//   - L() exposes the zap logger for call sites that want structured fields.
//
// ⚠️ Never invoke on the per-token hot path at info level; use Debug there.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the logging section of the process configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

var logger atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Init builds the process logger from cfg and installs it. The previous
// logger is synced before being replaced.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the process logger. Tests use it with zaptest/observer.
func Set(l *zap.Logger) {
	if old := logger.Swap(l); old != nil {
		_ = old.Sync()
	}
}

// L returns the process logger.
func L() *zap.Logger {
	return logger.Load()
}

// Sync flushes buffered entries. Call before exit.
func Sync() {
	_ = L().Sync()
}

// DropError logs a failure under prefix. A nil err logs just the prefix as a
// tagged warning.
func DropError(prefix string, err error) {
	if err != nil {
		L().Error(prefix, zap.Error(err))
		return
	}
	L().Warn(prefix)
}

// DropMessage logs an informational state change.
func DropMessage(prefix, message string) {
	L().Info(message, zap.String("tag", prefix))
}

func build(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	if cfg.Development {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zc.Build()
}
