// Package logging provides the colored, verbosity-aware console logger used by
// every auth-agent command.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
)

// redactedValue replaces sensitive fields in traced HTTP bodies.
const redactedValue = "[REDACTED]"

// sensitiveKeys are JSON keys whose values never reach the trace output.
var sensitiveKeys = map[string]bool{
	"agent_secret":  true,
	"client_secret": true,
	"code":          true,
	"code_verifier": true,
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"token":         true,
}

// Logger writes timestamped, optionally colored log lines.
type Logger struct {
	verbose  bool
	useColor bool
	trace    bool
	writer   io.Writer
	mu       sync.Mutex
}

// NewLogger creates a logger that writes to stderr.
func NewLogger(verbose, useColor, trace bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, trace, os.Stderr)
}

// NewLoggerWithWriter creates a logger with a custom writer.
func NewLoggerWithWriter(verbose, useColor, trace bool, w io.Writer) *Logger {
	return &Logger{
		verbose:  verbose,
		useColor: useColor,
		trace:    trace,
		writer:   w,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLoggerWithWriter(false, false, false, io.Discard)
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

// IsVerbose reports whether debug output is enabled.
func (l *Logger) IsVerbose() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// SetWriter redirects output, e.g. to readline's stdout while a REPL is active.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *Logger) colorize(c text.Color, s string) string {
	if !l.useColor {
		return s
	}
	return c.Sprint(s)
}

func (l *Logger) write(symbol string, c text.Color, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(l.writer, "[%s] %s %s\n", timestamp, l.colorize(c, symbol), msg)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("ℹ", text.FgCyan, format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.write("✓", text.FgGreen, format, args...)
}

// Warning logs a warning.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.write("⚠", text.FgYellow, format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("✗", text.FgRed, format, args...)
}

// Debug logs only in verbose mode.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.IsVerbose() {
		return
	}
	l.write("·", text.FgHiBlack, format, args...)
}

// InfoVerbose logs an info message only when verbose mode is enabled.
// Safe to call on a nil logger.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if l == nil || !l.IsVerbose() {
		return
	}
	l.Info(format, args...)
}

// WarningVerbose logs a warning only when verbose mode is enabled.
// Safe to call on a nil logger.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if l == nil || !l.IsVerbose() {
		return
	}
	l.Warning(format, args...)
}

// Request traces an outgoing HTTP request. Only active in trace mode.
func (l *Logger) Request(method, url string, body interface{}) {
	if l == nil || !l.trace {
		return
	}
	l.write("→", text.FgBlue, "%s %s", method, url)
	if body != nil {
		l.writeBody(body)
	}
}

// Response traces an HTTP response. Only active in trace mode.
func (l *Logger) Response(method, url string, status int, body []byte) {
	if l == nil || !l.trace {
		return
	}
	l.write("←", text.FgMagenta, "%s %s (%d)", method, url, status)
	if len(body) == 0 {
		return
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		l.writeRaw(string(body))
		return
	}
	l.writeBody(decoded)
}

func (l *Logger) writeBody(body interface{}) {
	raw, ok := body.([]byte)
	if !ok {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			l.writeRaw(fmt.Sprintf("%v", body))
			return
		}
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		l.writeRaw(string(raw))
		return
	}
	l.writeRaw(PrettyJSON(Redact(decoded)))
}

func (l *Logger) writeRaw(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return
	}
	_, _ = fmt.Fprintln(l.writer, s)
}

// Redact returns a copy of v with sensitive keys masked. Values that are not
// JSON objects or arrays are returned unchanged.
func Redact(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			if sensitiveKeys[k] {
				out[k] = redactedValue
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			if sensitiveKeys[k] {
				out[k] = redactedValue
				continue
			}
			out[k] = val
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, val := range typed {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// PrettyJSON formats v as indented JSON, falling back to %v.
func PrettyJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
