package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{"token", "secret", "signature", "password", "authorization"}

// Init builds the process logger, writing to stdout and, when logFile is set,
// appending to that file as well. It becomes slog's default. The returned
// closer releases the log file and is never nil.
func Init(level string, logFile string) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	writers := []io.Writer{os.Stdout}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		closer = f
	}

	log := New(io.MultiWriter(writers...), level)
	slog.SetDefault(log)
	return log, closer, nil
}

// New returns a text logger on w with short timestamps and secret redaction.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			if isSensitive(a.Key) {
				return slog.String(a.Key, redacted)
			}
			return a
		},
	})
	return slog.New(handler)
}

// ParseLevel maps debug/info/warn/error to a level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
