package main

import (
	"github.com/integrii/flaggy"
	"github.com/mgutz/str"
	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/jobserver"
)

func newMakeCommand() (*flaggy.Subcommand, func(*logrus.Entry) error) {
	cmd := flaggy.NewSubcommand("make")
	cmd.Description = "set jobserver file descriptors for a child process"

	var fdSocket string
	var command string
	cmd.String(&fdSocket, "", "fd-socket", "abstract socket to fetch jobserver fds from")
	cmd.String(&command, "", "command", "command and arguments to exec, as one shell-quoted string")

	run := func(log *logrus.Entry) error {
		return jobserver.Launch(fdSocket, str.ToArgv(command), nil)
	}
	return cmd, run
}
