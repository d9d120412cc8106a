package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AccessDateLayout is the timestamp layout of combined log lines.
const AccessDateLayout = "02/Jan/2006:15:04:05 -0700"

// AccessUserAgent stands in for the user agent, which gopher never sends.
const AccessUserAgent = "Unknown gopher client"

// AccessEntry is one line of the access log.
type AccessEntry struct {
	RemoteAddr string
	ServerHost string
	ServerPort int
	Time       time.Time
	Type       byte
	Selector   string
	Status     int
	Size       int64
	Referrer   string
}

// AccessLog writes Apache combined-format lines so standard web log
// analyzers can process gopher traffic. A nil *AccessLog discards entries.
type AccessLog struct {
	l *zap.Logger
}

// OpenAccessLog appends to the file at path. An empty path returns nil.
func OpenAccessLog(path string) (*AccessLog, error) {
	if path == "" {
		return nil, nil
	}
	sink, _, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	return newAccessLog(sink), nil
}

func newAccessLog(sink zapcore.WriteSyncer) *AccessLog {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg"})
	core := zapcore.NewCore(enc, sink, zapcore.InfoLevel)
	return &AccessLog{l: zap.New(core)}
}

// Log writes e. Failures are ignored.
func (a *AccessLog) Log(e AccessEntry) {
	if a == nil {
		return
	}
	a.l.Info(fmt.Sprintf("%s %s:%d - [%s] \"GET %c%s HTTP/1.0\" %d %d \"%s\" \"%s\"",
		e.RemoteAddr,
		e.ServerHost,
		e.ServerPort,
		e.Time.Format(AccessDateLayout),
		e.Type,
		e.Selector,
		e.Status,
		e.Size,
		e.Referrer,
		AccessUserAgent,
	))
}

// Sync flushes the access log.
func (a *AccessLog) Sync() error {
	if a == nil {
		return nil
	}
	return a.l.Sync()
}
