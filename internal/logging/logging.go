// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup sets level and format on the standard logger. An unknown level
// falls back to warn; format is "text" or "json".
func Setup(level, format string) {
	SetupLogger(log.StandardLogger(), os.Stderr, level, format)
}

// SetupLogger configures l to write to out.
func SetupLogger(l *log.Logger, out io.Writer, level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.WarnLevel
	}
	l.SetLevel(lvl)
	l.SetOutput(out)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Component returns an entry tagged with the component name.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}
