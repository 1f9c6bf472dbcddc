package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
)

// LogLevel defines the severity of the log
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
)

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent", "off":
		return LogLevelSilent
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	default:
		return LogLevelInfo
	}
}

// LogFormat defines the output format of the log
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logger is the interface for logging SQL and connection lifecycle messages
type Logger interface {
	SetLevel(level LogLevel)
	SetFormat(format LogFormat)
	SetOutput(w io.Writer)
	// SetLevelOutput sends entries of exactly this level to w as well.
	SetLevelOutput(level LogLevel, w io.Writer)
	WithFields(fields map[string]any) Logger
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SQL(sql string, duration time.Duration, args ...any)
}

// sink is shared between a logger and the loggers derived from it with
// WithFields, so that SetOutput and friends affect all of them.
type sink struct {
	mu           sync.Mutex
	level        LogLevel
	format       LogFormat
	writer       io.Writer
	levelWriters map[LogLevel]io.Writer
}

type stdLogger struct {
	sink   *sink
	fields map[string]any
}

// NewStdLogger creates a new standard logger writing text to stdout
func NewStdLogger() Logger {
	return &stdLogger{
		sink: &sink{
			level:        LogLevelInfo,
			format:       LogFormatText,
			writer:       os.Stdout,
			levelWriters: make(map[LogLevel]io.Writer),
		},
		fields: make(map[string]any),
	}
}

func (l *stdLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *stdLogger) SetFormat(format LogFormat) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.format = format
}

func (l *stdLogger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.writer = w
}

func (l *stdLogger) SetLevelOutput(level LogLevel, w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.levelWriters[level] = w
}

func (l *stdLogger) WithFields(fields map[string]any) Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{sink: l.sink, fields: merged}
}

func (l *stdLogger) Info(format string, args ...any) {
	l.log(LogLevelInfo, "INFO", fmt.Sprintf(format, args...), nil)
}

func (l *stdLogger) Warn(format string, args ...any) {
	l.log(LogLevelWarn, "WARN", fmt.Sprintf(format, args...), nil)
}

func (l *stdLogger) Error(format string, args ...any) {
	l.log(LogLevelError, "ERROR", fmt.Sprintf(format, args...), nil)
}

func (l *stdLogger) SQL(sql string, duration time.Duration, args ...any) {
	extra := map[string]any{
		"sql":      sql,
		"duration": duration.String(),
		"args":     args,
	}
	msg := fmt.Sprintf("%s[%v] %s | args: %v%s", getSQLColor(sql), duration, sql, args, ansiReset)
	l.log(LogLevelInfo, "SQL", msg, extra)
}

func (l *stdLogger) log(level LogLevel, label, msg string, extra map[string]any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.level < level {
		return
	}

	var line []byte
	now := time.Now()
	if l.sink.format == LogFormatJSON {
		data := make(map[string]any, len(l.fields)+len(extra)+3)
		for k, v := range l.fields {
			data[k] = v
		}
		data["time"] = now.Format(time.RFC3339)
		data["level"] = label
		if extra != nil {
			for k, v := range extra {
				data[k] = v
			}
		} else {
			data["msg"] = msg
		}
		b, err := json.Marshal(data)
		if err != nil {
			return
		}
		line = append(b, '\n')
	} else {
		fieldStr := ""
		if len(l.fields) > 0 {
			fieldStr = fmt.Sprintf(" fields: %v", l.fields)
		}
		line = []byte(fmt.Sprintf("[JCONN] %s %s: %s%s\n", now.Format("2006-01-02 15:04:05"), label, msg, fieldStr))
	}

	if l.sink.writer != nil {
		_, _ = l.sink.writer.Write(line)
	}
	if w, ok := l.sink.levelWriters[level]; ok && w != nil && label != "SQL" {
		_, _ = w.Write(line)
	}
}

func getSQLColor(sqlStr string) string {
	s := strings.TrimSpace(strings.ToUpper(sqlStr))
	switch {
	case strings.HasPrefix(s, "SELECT"):
		return ansiYellow
	case strings.HasPrefix(s, "INSERT"), strings.HasPrefix(s, "UPDATE"):
		return ansiGreen
	case strings.HasPrefix(s, "DELETE"):
		return ansiRed
	case strings.HasPrefix(s, "SAVEPOINT"), strings.HasPrefix(s, "RELEASE"),
		strings.HasPrefix(s, "ROLLBACK"), strings.HasPrefix(s, "COMMIT"), strings.HasPrefix(s, "BEGIN"):
		return ansiBlue
	default:
		return ansiCyan
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	l := NewStdLogger()
	l.SetLevel(LogLevelSilent)
	l.SetOutput(io.Discard)
	return l
}
