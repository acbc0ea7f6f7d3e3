// Package logger is the process-wide leveled logger.
//
// Call sites use printf-style helpers (Debug, Info, Warn, Error). Output is
// produced by zap, either as human readable text or as JSON lines.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config selects the output of the process logger.
type Config struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive)
	Level string

	// Format is "text" or "json"
	Format string

	// Output is "stdout", "stderr" or a file path (appended to)
	Output string
}

var (
	mu     sync.Mutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	format = "text"
	output = "stdout"
	sugar  = build(zapcore.Lock(os.Stdout), format)
	closer func() error
)

// Configure applies cfg. Empty fields keep their current value.
func Configure(cfg Config) error {
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		if err := SetFormat(cfg.Format); err != nil {
			return err
		}
	}
	if cfg.Output != "" {
		if err := SetOutput(cfg.Output); err != nil {
			return err
		}
	}
	return nil
}

func SetLevel(l string) {
	switch strings.ToUpper(l) {
	case "DEBUG":
		level.SetLevel(LevelDebug.zap())
	case "INFO":
		level.SetLevel(LevelInfo.zap())
	case "WARN":
		level.SetLevel(LevelWarn.zap())
	case "ERROR":
		level.SetLevel(LevelError.zap())
	}
}

// SetFormat switches between "text" and "json" output.
func SetFormat(f string) error {
	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return fmt.Errorf("unknown log format %q (expected text or json)", f)
	}

	mu.Lock()
	defer mu.Unlock()
	format = f
	return rebuild(output)
}

// SetOutput redirects logs to "stdout", "stderr" or a file path.
func SetOutput(o string) error {
	mu.Lock()
	defer mu.Unlock()
	return rebuild(o)
}

// Sync flushes buffered entries and closes a file output.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	_ = sugar.Sync()
	if closer != nil {
		err := closer()
		closer = nil
		return err
	}
	return nil
}

// rebuild swaps the logger. Caller holds mu.
func rebuild(o string) error {
	ws, closeFn, err := zap.Open(sinkPath(o))
	if err != nil {
		return fmt.Errorf("failed to open log output %s: %w", o, err)
	}

	old := closer
	_ = sugar.Sync()
	sugar = build(ws, format)
	output = o
	closer = func() error { closeFn(); return nil }
	if old != nil {
		_ = old()
	}
	return nil
}

func sinkPath(o string) string {
	switch strings.ToLower(o) {
	case "", "stdout":
		return "stdout"
	case "stderr":
		return "stderr"
	default:
		return o
	}
}

func build(ws zapcore.WriteSyncer, f string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"

	var enc zapcore.Encoder
	if f == "json" {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.ConsoleSeparator = " "
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	return zap.New(zapcore.NewCore(enc, ws, level)).Sugar()
}

func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// Enabled reports whether messages at l are emitted.
func Enabled(l Level) bool {
	return level.Enabled(l.zap())
}

func Debug(format string, v ...any) {
	current().Debugf(format, v...)
}

func Info(format string, v ...any) {
	current().Infof(format, v...)
}

func Warn(format string, v ...any) {
	current().Warnf(format, v...)
}

func Error(format string, v ...any) {
	current().Errorf(format, v...)
}
