package logger

import (
    "os"

    "github.com/wardenhq/throttlegate/services/gateway/config"
    "github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. cfg.LogLevel, when it parses,
// wins; otherwise the level falls back to Env the way it always has.
func New(cfg *config.Config) zerolog.Logger {
    out := zerolog.ConsoleWriter{Out: os.Stderr}
    lvl := zerolog.InfoLevel
    if cfg.Env == "development" {
        lvl = zerolog.DebugLevel
    }
    if cfg.LogLevel != "" {
        if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
            lvl = parsed
        }
    }
    zerolog.SetGlobalLevel(lvl)
    log := zerolog.New(out).With().Timestamp().Logger()
    return log
}
