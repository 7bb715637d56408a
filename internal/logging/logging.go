// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the root logger for a binary. Dev environments get the console
// writer, everything else emits JSON lines.
func New(env, component string) zerolog.Logger {
	var logger zerolog.Logger
	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("component", component).Logger()
}
