package logging

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// leveled adapts Logger to retryablehttp's key/value logging interface.
// Retry chatter goes to verbose output only; errors are always shown.
type leveled struct {
	l *Logger
}

// Leveled returns l as a retryablehttp.LeveledLogger.
func (l *Logger) Leveled() retryablehttp.LeveledLogger {
	return leveled{l: l}
}

func (a leveled) Error(msg string, keysAndValues ...interface{}) {
	a.l.Error("%s", formatKV(msg, keysAndValues))
}

func (a leveled) Info(msg string, keysAndValues ...interface{}) {
	a.l.InfoVerbose("%s", formatKV(msg, keysAndValues))
}

func (a leveled) Debug(msg string, keysAndValues ...interface{}) {
	a.l.Debug("%s", formatKV(msg, keysAndValues))
}

func (a leveled) Warn(msg string, keysAndValues ...interface{}) {
	a.l.WarningVerbose("%s", formatKV(msg, keysAndValues))
}

func formatKV(msg string, kv []interface{}) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v", kv[i])
		}
	}
	return b.String()
}
