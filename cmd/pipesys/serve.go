package main

import (
	"context"

	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/fdbroker"
)

func newServeCommand() (*flaggy.Subcommand, func(*logrus.Entry) error) {
	cmd := flaggy.NewSubcommand("serve")
	cmd.Description = "serve file descriptors to clients"

	var socket string
	var clientUID int
	var paths []string
	cmd.String(&socket, "", "socket", "abstract socket to listen on")
	cmd.Int(&clientUID, "", "client-uid", "expected peer UID")
	cmd.StringSlice(&paths, "", "path", "paths to open and serve")

	run := func(log *logrus.Entry) error {
		cfg := fdbroker.ForPaths(socket, uint32(clientUID), paths)
		broker, err := fdbroker.New(cfg, log)
		if err != nil {
			return err
		}
		if err := broker.Bind(); err != nil {
			return err
		}
		defer broker.Close()
		return broker.Run(context.Background())
	}
	return cmd, run
}
