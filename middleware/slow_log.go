package middleware

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/logger"
)

// SlowLogMiddleware logs statements that take longer than the specified threshold.
type SlowLogMiddleware struct {
	Threshold time.Duration
	LogPath   string
	logger    logger.Logger
	file      *os.File
}

// NewSlowLog creates a new SlowLogMiddleware.
// threshold: statements taking longer than this will be logged.
// logPath: path to the log file. If empty, logs to standard output.
func NewSlowLog(threshold time.Duration, logPath string) *SlowLogMiddleware {
	return &SlowLogMiddleware{
		Threshold: threshold,
		LogPath:   logPath,
	}
}

// SetOutput sets the output destination for the logger.
// This is useful for testing or custom logging.
func (m *SlowLogMiddleware) SetOutput(w io.Writer) {
	m.logger = logger.NewStdLogger()
	m.logger.SetOutput(w)
}

func (m *SlowLogMiddleware) Name() string {
	return "SlowLog"
}

func (m *SlowLogMiddleware) Init(w *core.Wrapper) error {
	// If logger is already set (e.g. by SetOutput), don't overwrite it
	if m.logger != nil {
		return nil
	}

	m.logger = logger.NewStdLogger()
	if m.LogPath != "" {
		f, err := os.OpenFile(m.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open slow log file: %w", err)
		}
		m.file = f
		m.logger.SetOutput(f)
	}
	return nil
}

func (m *SlowLogMiddleware) Shutdown() error {
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

func (m *SlowLogMiddleware) Process(ctx context.Context, e *core.Execution, next core.ExecFunc) (*core.Outcome, error) {
	start := time.Now()
	out, err := next(ctx, e)
	duration := time.Since(start)

	if duration >= m.Threshold && m.logger != nil {
		fields := map[string]any{"alias": e.Alias, "vendor": e.Vendor}
		for k, v := range e.Fields {
			fields[k] = v
		}
		m.logger.WithFields(fields).Warn("[SLOW SQL] duration=%v | sql=%s | args=%v | rows=%d | err=%v",
			duration, e.SQL, e.Args, out.RowsAffected(), err)
	}

	return out, err
}
