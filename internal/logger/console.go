// Package logger provides the leveled console logger used across steward.
//
// Output is prefixed with [HH:MM:SS] timestamps, filtered by level, and
// colorized when writing to a terminal. Implementations are safe for
// concurrent use.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs progress to a writer with timestamps and thread
// safety. Color output is enabled automatically when the writer is a TTY.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger writing to the provided writer.
// If writer is nil, messages are silently discarded. Valid levels: trace,
// debug, info, warn, error (case-insensitive); empty or invalid levels
// default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks whether the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel lowercases and validates a log level, defaulting to
// "info".
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	default:
		return "info"
	}
}

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := time.Now().Format("15:04:05")
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, colorizeLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func colorizeLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}
