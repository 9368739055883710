// Package logging configures logrus for the fleet binaries.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/config"
)

// New returns a logger writing to out at the configured level. Format is
// "json" or "text".
func New(cfg config.LogConfig, out io.Writer) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(out)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return logger, nil
}

// Configure applies cfg to the standard logger used through the package
// level logrus functions.
func Configure(cfg config.LogConfig, out io.Writer) error {
	logger, err := New(cfg, out)
	if err != nil {
		return err
	}
	std := log.StandardLogger()
	std.SetOutput(out)
	std.SetLevel(logger.GetLevel())
	std.SetFormatter(logger.Formatter)
	return nil
}
