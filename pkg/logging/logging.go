// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup applies a level ("debug", "info", ...) and a format ("text" or
// "json") to the standard logger. An unknown level falls back to info.
func Setup(level, format string) {
	SetupLogger(logrus.StandardLogger(), level, format)
}

// SetupLogger is Setup for a specific logger.
func SetupLogger(l *logrus.Logger, level, format string) {
	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		l.WithFields(logrus.Fields{
			"function": "logging.Setup",
			"level":    level,
		}).Warn("Logging: unknown level, using info")
		return
	}
	l.SetLevel(lvl)
}

// SetOutput redirects the standard logger.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}
