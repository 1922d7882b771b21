package offload

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// LogLevel controls offloader log verbosity. Set HV_OFFLOAD_LOG_LEVEL to
// one of none, error, warn, info, debug.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "none"
	}
}

// ParseLogLevel maps a name or digit onto a level. Unknown values mean warn.
func ParseLogLevel(raw string) LogLevel {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "none", "off", "0":
		return LogLevelNone
	case "error", "err", "1":
		return LogLevelError
	case "warn", "warning", "2":
		return LogLevelWarn
	case "info", "3":
		return LogLevelInfo
	case "debug", "4":
		return LogLevelDebug
	default:
		return LogLevelWarn
	}
}

func logLevelFromEnv() LogLevel {
	return ParseLogLevel(os.Getenv("HV_OFFLOAD_LOG_LEVEL"))
}

// SetLogLevel overrides the level read from the environment.
func (o *Offloader) SetLogLevel(l LogLevel) {
	o.mu.Lock()
	o.logLevel = l
	o.mu.Unlock()
}

// logEvent writes one JSON object per line through the standard logger.
func (o *Offloader) logEvent(level LogLevel, event string, fields map[string]any) {
	o.mu.Lock()
	threshold := o.logLevel
	o.mu.Unlock()
	if level == LogLevelNone || threshold == LogLevelNone || level > threshold {
		return
	}

	payload := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"component": "offload",
		"event":     event,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("offload: failed to marshal log event %s: %v", event, err)
		return
	}
	log.Printf("%s", b)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
