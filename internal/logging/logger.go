package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar selects the log level: debug, info, warn, error (default info).
const LevelEnvVar = "MEDIA_INGEST_LOG_LEVEL"

// Init configures the global logger for interactive use: human-readable
// console output on stderr.
func Init() {
	zerolog.SetGlobalLevel(Level(os.Getenv(LevelEnvVar)))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitJSON configures the global logger for Lambda: one JSON object per line,
// which CloudWatch Logs Insights can query by field.
func InitJSON(w io.Writer) {
	zerolog.SetGlobalLevel(Level(os.Getenv(LevelEnvVar)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Level maps a level name to a zerolog level. Unknown names mean info.
func Level(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
