package core

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets the process-wide logrus level and formatter. format is "json" or "text".
func ConfigureLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(lvl)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log format must be json or text, got %q", format)
	}
	return nil
}
