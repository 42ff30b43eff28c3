package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "ohs-copilot"

// InitLogger configures the process-wide zerolog logger. An unparseable or
// empty level falls back to info. When a log file is configured it receives
// a copy of every event alongside stdout, so container logs stay complete
// while the file preserves an on-disk trail next to the audit log.
func InitLogger(logPath, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl := parseLevel(level)

	sinks := []io.Writer{os.Stdout}
	var fileErr error
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sinks = append(sinks, f)
		} else {
			fileErr = err
		}
	}
	var out io.Writer = sinks[0]
	if len(sinks) > 1 {
		out = zerolog.MultiLevelWriter(sinks...)
	}

	log.Logger = zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	zerolog.SetGlobalLevel(lvl)

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logPath).Msg("log file unavailable, logging to stdout only")
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
