package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Leveled logger shared by the editorbridge service.
// - package-level API so handlers and services log without plumbing a logger
// - backed by zap; Init(level, format) may be called again to reconfigure

var (
	mu    sync.RWMutex
	atom  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar = newSugar(atom, "console")
)

func newSugar(lvl zap.AtomicLevel, format string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core).Sugar()
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal)
// and the output format (json or console). Default level is Info.
func Init(level string, format ...string) {
	atom.SetLevel(parseLevel(level))
	if len(format) > 0 {
		f := strings.ToLower(strings.TrimSpace(format[0]))
		mu.Lock()
		sugar = newSugar(atom, f)
		mu.Unlock()
	}
}

func parseLevel(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// replaceCore swaps the output core. Used by tests to observe entries.
func replaceCore(core zapcore.Core) func() {
	mu.Lock()
	orig := sugar
	sugar = zap.New(core).Sugar()
	mu.Unlock()
	return func() {
		mu.Lock()
		sugar = orig
		mu.Unlock()
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// With returns a logger carrying the given key/value pairs on every entry,
// e.g. logger.With("doc", id, "status", st).Warnf(...).
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return current().With(keysAndValues...)
}

func Debugf(format string, v ...interface{}) { current().Debugf(format, v...) }
func Infof(format string, v ...interface{})  { current().Infof(format, v...) }
func Warnf(format string, v ...interface{})  { current().Warnf(format, v...) }
func Errorf(format string, v ...interface{}) { current().Errorf(format, v...) }

// Fatalf logs and exits regardless of the configured level.
func Fatalf(format string, v ...interface{}) {
	l := current()
	l.Errorf("fatal: "+format, v...)
	_ = l.Sync()
	os.Exit(1)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	current().Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// Sync flushes buffered entries; call before process exit.
func Sync() { _ = current().Sync() }

// LevelString returns the current level as text.
func LevelString() string {
	switch atom.Level() {
	case zapcore.DebugLevel:
		return "debug"
	case zapcore.WarnLevel:
		return "warn"
	case zapcore.ErrorLevel:
		return "error"
	case zapcore.FatalLevel:
		return "fatal"
	}
	return "info"
}
