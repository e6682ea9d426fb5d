// Package buildlog wires up the logrus.Entry shared by every buildsys
// component, the way the teacher's pkg/log does for lazydocker.
package buildlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Entry carrying the given fields; cmd/buildsys
// passes the build-identifying ones (target architecture, build kind, tag
// token). Components that need to log receive this Entry rather than
// constructing their own logger.
func New(fields logrus.Fields) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(output())
	log.SetLevel(level())
	if isTerminal(os.Stderr) {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		log.Formatter = &logrus.JSONFormatter{}
	}
	return log.WithFields(fields)
}

// Discard returns an Entry that drops all output, for tests that don't
// want to assert on log lines but still need to satisfy a *logrus.Entry
// parameter.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func output() io.Writer {
	return os.Stderr
}

func level() logrus.Level {
	raw := os.Getenv("BUILDSYS_LOG_LEVEL")
	if raw == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
