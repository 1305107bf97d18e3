package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taller-core/config"
	"taller-core/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional, env vars apply on top)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := bootstrapLogger()
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}
	logger := newLogger(cfg.Logging)
	if err := appbootstrap.Run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service exited")
	}
}

func bootstrapLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
