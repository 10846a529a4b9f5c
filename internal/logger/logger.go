package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Logger struct {
	level LogLevel
	out   zerolog.Logger
	err   zerolog.Logger
	exit  func(int)
}

// Log is the exported, initialized logger instance
var Log *Logger

// init function initializes Log with the log level from LOG_LEVEL environment variable
func init() {
	level := parseLogLevelFromEnv()
	Log = NewLogger(level)
}

// parseLogLevelFromEnv reads the LOG_LEVEL environment variable and returns the corresponding LogLevel.
// Defaults to INFO if LOG_LEVEL is unset or invalid.
func parseLogLevelFromEnv() LogLevel {
	return ParseLogLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLogLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func NewLogger(level LogLevel) *Logger {
	return newLogger(level, os.Stdout, os.Stderr)
}

func newLogger(level LogLevel, stdout, stderr io.Writer) *Logger {
	console := func(w io.Writer) zerolog.Logger {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: true}).
			With().Timestamp().Logger()
	}
	return &Logger{
		level: level,
		out:   console(stdout),
		err:   console(stderr),
		exit:  os.Exit,
	}
}

// Level returns the configured level.
func (l *Logger) Level() LogLevel {
	return l.level
}

// ZerologLevel converts the configured level for libraries that log through zerolog directly.
func (l *Logger) ZerologLevel() zerolog.Level {
	switch l.level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// formatMessage formats the message with an optional prefix
func formatMessage(prefix, msg string, v ...interface{}) string {
	if len(v) > 0 {
		msg = fmt.Sprintf(msg, v...)
	}
	if prefix != "" {
		return "[" + prefix + "] " + msg
	}
	return msg
}

// Debug logs debug messages with an optional prefix if the level is set to DEBUG or lower
func (l *Logger) Debug(msg string, v ...interface{}) {
	l.DebugWithPrefix("", msg, v...)
}

// DebugWithPrefix logs debug messages with a specific prefix
func (l *Logger) DebugWithPrefix(prefix, msg string, v ...interface{}) {
	if l.level <= DEBUG {
		l.out.Debug().Msg(formatMessage(prefix, msg, v...))
	}
}

// Info logs informational messages with an optional prefix if the level is set to INFO or lower
func (l *Logger) Info(msg string, v ...interface{}) {
	l.InfoWithPrefix("", msg, v...)
}

// InfoWithPrefix logs informational messages with a specific prefix
func (l *Logger) InfoWithPrefix(prefix, msg string, v ...interface{}) {
	if l.level <= INFO {
		l.out.Info().Msg(formatMessage(prefix, msg, v...))
	}
}

// Warn logs warning messages with an optional prefix if the level is set to WARN or lower
func (l *Logger) Warn(msg string, v ...interface{}) {
	l.WarnWithPrefix("", msg, v...)
}

// WarnWithPrefix logs warning messages with a specific prefix
func (l *Logger) WarnWithPrefix(prefix, msg string, v ...interface{}) {
	if l.level <= WARN {
		l.out.Warn().Msg(formatMessage(prefix, msg, v...))
	}
}

// Error logs error messages with an optional prefix if the level is set to ERROR or lower
func (l *Logger) Error(msg string, v ...interface{}) {
	l.ErrorWithPrefix("", msg, v...)
}

// ErrorWithPrefix logs error messages with a specific prefix
func (l *Logger) ErrorWithPrefix(prefix, msg string, v ...interface{}) {
	if l.level <= ERROR {
		l.err.Error().Msg(formatMessage(prefix, msg, v...))
	}
}

// Fatal logs fatal messages and exits the program
func (l *Logger) Fatal(msg string, v ...interface{}) {
	l.FatalWithPrefix("", msg, v...)
}

// FatalWithPrefix logs fatal messages with a specific prefix and exits the program
func (l *Logger) FatalWithPrefix(prefix, msg string, v ...interface{}) {
	// zerolog's Fatal() would exit on its own; WithLevel keeps the exit hook swappable.
	l.err.WithLevel(zerolog.FatalLevel).Msg(formatMessage(prefix, msg, v...))
	l.exit(1)
}

// Wrapper functions to simplify logging with optional prefix

func Debug(msg string, v ...interface{}) {
	Log.Debug(msg, v...)
}

func DebugWithPrefix(prefix, msg string, v ...interface{}) {
	Log.DebugWithPrefix(prefix, msg, v...)
}

func Info(msg string, v ...interface{}) {
	Log.Info(msg, v...)
}

func InfoWithPrefix(prefix, msg string, v ...interface{}) {
	Log.InfoWithPrefix(prefix, msg, v...)
}

func Warn(msg string, v ...interface{}) {
	Log.Warn(msg, v...)
}

func WarnWithPrefix(prefix, msg string, v ...interface{}) {
	Log.WarnWithPrefix(prefix, msg, v...)
}

func Error(msg string, v ...interface{}) {
	Log.Error(msg, v...)
}

func ErrorWithPrefix(prefix, msg string, v ...interface{}) {
	Log.ErrorWithPrefix(prefix, msg, v...)
}

func Fatal(msg string, v ...interface{}) {
	Log.Fatal(msg, v...)
}

func FatalWithPrefix(prefix, msg string, v ...interface{}) {
	Log.FatalWithPrefix(prefix, msg, v...)
}
