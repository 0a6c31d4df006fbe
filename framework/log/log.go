// Package log implements the structured logging façade shared by every
// component of the kernel: a small Logger value wrapping go.uber.org/zap
// with a name and a debug flag, plus a process-wide DefaultLogger that
// can be silenced via a NopOutput sink.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output is anything a Logger can write rendered lines to. It exists so
// callers can swap in a NopOutput to silence a logger without tearing
// down the underlying zap core.
type Output interface {
	io.Writer
}

// NopOutput discards everything written to it.
type NopOutput struct{}

func (NopOutput) Write(p []byte) (int, error) { return len(p), nil }

// Logger is a named, optionally-debug-enabled logging handle.
//
// The zero value is usable: it logs through DefaultLogger's core with
// an empty name.
type Logger struct {
	Name  string
	Debug bool
	Out   Output
}

var (
	coreMu    sync.RWMutex
	baseCore  zapcore.Core
	baseOut   io.Writer = os.Stderr
	zapLogger *zap.Logger
)

func init() {
	rebuildCore()
}

func rebuildCore() {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	coreMu.Lock()
	baseCore = zapcore.NewCore(enc, zapcore.AddSync(baseOut), zapcore.DebugLevel)
	zapLogger = zap.New(baseCore)
	coreMu.Unlock()
}

// DefaultLogger is the process-wide logger used by components that were
// not handed an explicit Logger.
var DefaultLogger = Logger{Name: "madkernel"}

// SetOutput redirects where DefaultLogger (and any Logger without its own
// Out) writes to. Passing NopOutput{} silences logging process-wide.
func SetOutput(w Output) {
	coreMu.Lock()
	baseOut = w
	coreMu.Unlock()
	rebuildCore()
}

func (l Logger) sugar() *zap.SugaredLogger {
	var core zapcore.Core
	if l.Out != nil {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		enc := zapcore.NewConsoleEncoder(encCfg)
		core = zapcore.NewCore(enc, zapcore.AddSync(l.Out), zapcore.DebugLevel)
	} else {
		coreMu.RLock()
		core = baseCore
		coreMu.RUnlock()
	}
	logger := zap.New(core)
	if l.Name != "" {
		logger = logger.Named(l.Name)
	}
	return logger.Sugar()
}

// Msg logs an informational line.
func (l Logger) Msg(msg string, kv ...interface{}) {
	l.sugar().Infow(msg, kv...)
}

// DebugMsg logs a debug line, but only when l.Debug is set.
func (l Logger) DebugMsg(msg string, kv ...interface{}) {
	if !l.Debug {
		return
	}
	l.sugar().Debugw(msg, kv...)
}

// Debugln logs a debug line built from fmt.Sprintln-joined args.
func (l Logger) Debugln(args ...interface{}) {
	if !l.Debug {
		return
	}
	l.sugar().Debug(fmt.Sprintln(args...))
}

// Debugf logs a formatted debug line.
func (l Logger) Debugf(format string, args ...interface{}) {
	if !l.Debug {
		return
	}
	l.sugar().Debugf(format, args...)
}

// Printf logs a formatted informational line, used for CLI-facing
// startup banners.
func (l Logger) Printf(format string, args ...interface{}) {
	l.sugar().Infof(format, args...)
}

// Println logs an informational line built from space-joined args.
func (l Logger) Println(args ...interface{}) {
	l.sugar().Info(fmt.Sprintln(args...))
}

// Error logs msg at error level with the causing error and any extra
// key/value context attached.
func (l Logger) Error(msg string, err error, kv ...interface{}) {
	args := append([]interface{}{"error", err}, kv...)
	l.sugar().Errorw(msg, args...)
}

// Package-level convenience wrappers that log through DefaultLogger,
// matching call sites that reach for log.Msg(...) instead of
// log.DefaultLogger.Msg(...).
func Msg(msg string, kv ...interface{})              { DefaultLogger.Msg(msg, kv...) }
func DebugMsg(msg string, kv ...interface{})         { DefaultLogger.DebugMsg(msg, kv...) }
func Debugf(format string, args ...interface{})      { DefaultLogger.Debugf(format, args...) }
func Error(msg string, err error, kv ...interface{}) { DefaultLogger.Error(msg, err, kv...) }
func Println(args ...interface{})                    { DefaultLogger.Println(args...) }
func Printf(format string, args ...interface{})      { DefaultLogger.Printf(format, args...) }
