package logger

import (
	"fmt"
	"log/syslog"
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

// Config controls where and how log records are written.
type Config struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string

	// Format is "text" (console encoder) or "json"
	Format string

	// Output is "stdout", "stderr", "syslog" or a file path
	Output string
}

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	atomicLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar        = newDefault()
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

func (l Level) zapLevel() zapcore.Level {
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

func parseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func newDefault() *zap.SugaredLogger {
	core := zapcore.NewCore(textEncoder(), zapcore.Lock(os.Stdout), atomicLevel)
	return zap.New(core).Sugar()
}

func textEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.CallerKey = ""
	return zapcore.NewJSONEncoder(cfg)
}

// Init replaces the global logger according to cfg.
//
// Unknown levels fall back to INFO. The "syslog" output writes to the local
// syslog daemon with the daemon facility, which is how the server is usually
// run under inetd.
func Init(cfg Config) error {
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "text", "console":
		encoder = textEncoder()
	case "json":
		encoder = jsonEncoder()
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var sink zapcore.WriteSyncer
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	case "syslog":
		w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "gopherd")
		if err != nil {
			return fmt.Errorf("connect to syslog: %w", err)
		}
		sink = zapcore.AddSync(w)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.Lock(f)
	}

	SetLevel(cfg.Level)

	mu.Lock()
	sugar = zap.New(zapcore.NewCore(encoder, sink, atomicLevel)).Sugar()
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = sugar.Sync()
}

func SetLevel(level string) {
	l, ok := parseLevel(level)
	if !ok {
		return
	}
	mu.Lock()
	currentLevel = l
	mu.Unlock()
	atomicLevel.SetLevel(l.zapLevel())
}

// GetLevel returns the active level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// Enabled reports whether records at level would be written.
func Enabled(level Level) bool {
	return atomicLevel.Enabled(level.zapLevel())
}

func log(level Level, format string, v ...any) {
	if !Enabled(level) {
		return
	}

	mu.RLock()
	s := sugar
	mu.RUnlock()

	switch level {
	case LevelDebug:
		s.Debugf(format, v...)
	case LevelInfo:
		s.Infof(format, v...)
	case LevelWarn:
		s.Warnf(format, v...)
	default:
		s.Errorf(format, v...)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

// Request is a logger bound to a single request id.
type Request struct {
	s *zap.SugaredLogger
}

// ForRequest returns a logger that tags every record with the request id.
func ForRequest(id string) *Request {
	mu.RLock()
	defer mu.RUnlock()
	return &Request{s: sugar.With("req", id)}
}

func (r *Request) Debug(format string, v ...any) { r.s.Debugf(format, v...) }
func (r *Request) Info(format string, v ...any)  { r.s.Infof(format, v...) }
func (r *Request) Warn(format string, v ...any)  { r.s.Warnf(format, v...) }
func (r *Request) Error(format string, v ...any) { r.s.Errorf(format, v...) }
