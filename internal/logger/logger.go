package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the base logger for the binaries. JSON to stderr by default,
// human-readable console output when ENV=development.
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log.Level(zerolog.InfoLevel)
}
