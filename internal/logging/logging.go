package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. The default only shows errors so the
// call UI stays readable; LOG_LEVEL overrides it.
func Init() {
	level := zerolog.ErrorLevel

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error", "production", "prod":
			level = zerolog.ErrorLevel
		}
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// NewServer builds the logger for the signaling server: structured JSON to
// stderr, level from LOG_LEVEL with an info default.
func NewServer() zerolog.Logger {
	level := zerolog.InfoLevel

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if parsed, err := zerolog.ParseLevel(l); err == nil {
			level = parsed
		}
	}

	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
