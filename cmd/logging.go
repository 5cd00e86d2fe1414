package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/decency/contentfilter/internal/config"
)

// newLogger builds the process-wide structured logger every daemon entry
// point shares. Once built at startup, the returned entry is only ever
// narrowed with WithField, never reconfigured.
func newLogger(cfg config.LoggingConfig) (*logrus.Entry, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", cfg.File, err)
		}
		logger.SetOutput(f)
	}

	return logrus.NewEntry(logger), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
