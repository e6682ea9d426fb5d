// Command pipesys runs inside build containers to receive file descriptors
// brokered from the host and reconstruct the jobserver handshake before
// exec'ing the real build command.
package main

import (
	"fmt"
	"os"

	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/buildlog"
)

var logLevelFlag string

func main() {
	flaggy.SetName("pipesys")
	flaggy.SetDescription("passes file descriptors into builds")
	flaggy.String(&logLevelFlag, "", "log-level", "panic|fatal|error|warn|info|debug|trace")

	serveCmd, serve := newServeCommand()
	makeCmd, make := newMakeCommand()
	linkCmd, link := newLinkCommand()
	flaggy.AttachSubcommand(serveCmd, 1)
	flaggy.AttachSubcommand(makeCmd, 1)
	flaggy.AttachSubcommand(linkCmd, 1)

	flaggy.Parse()

	log := initLogger(logLevelFlag)

	var err error
	switch {
	case serveCmd.Used:
		err = serve(log)
	case makeCmd.Used:
		err = make(log)
	case linkCmd.Used:
		err = link(log)
	default:
		flaggy.ShowHelpAndExit("a subcommand is required")
	}
	if err != nil {
		fatal(log, err)
	}
}

// initLogger prefers an explicit --log-level flag, else the LOG_LEVEL
// environment variable, else info, mirroring the original's init_logger
// RUST_LOG precedence (SPEC_FULL §12.3).
func initLogger(explicit string) *logrus.Entry {
	level := explicit
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		return buildlog.New(nil)
	}
	if _, err := logrus.ParseLevel(level); err != nil {
		return buildlog.New(nil)
	}
	os.Setenv("BUILDSYS_LOG_LEVEL", level)
	return buildlog.New(nil)
}

func fatal(log *logrus.Entry, err error) {
	wrapped := errors.Wrap(err, 0)
	log.Error(wrapped.ErrorStack())
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
