// Package logging centralizes the process-wide structured logger. Every
// subsystem receives a component-scoped child via Component rather than reaching
// for a package-level global.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide JSON logger, matching the teacher's
// cmd/server bootstrap.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Component returns a child logger tagged with "component" for a subsystem.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
