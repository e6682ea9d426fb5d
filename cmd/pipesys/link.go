package main

import (
	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/jobserver"
)

func newLinkCommand() (*flaggy.Subcommand, func(*logrus.Entry) error) {
	cmd := flaggy.NewSubcommand("link")
	cmd.Description = "link a directory file descriptor to a target path"

	var fdSocket string
	var target string
	cmd.String(&fdSocket, "", "fd-socket", "abstract socket to fetch the directory fd from")
	cmd.String(&target, "", "target", "path to create the symlink at")

	run := func(log *logrus.Entry) error {
		return jobserver.FetchAndLink(fdSocket, target)
	}
	return cmd, run
}
