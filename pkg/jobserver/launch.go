package jobserver

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/distroforge/buildsys/pkg/berr"
)

// Launch fetches the two jobserver descriptors from socket, reconstructs
// the handshake string, and replaces the current process image with
// command, setting CARGO_MAKEFLAGS and MAKEFLAGS in the child's
// environment to the reconstructed handshake (spec §4.3's inner launch).
// A nil env means "inherit the current process environment", mirroring
// how the original's Command::exec() inherits by default. On success this
// function never returns; on failure to exec, it returns a fatal error.
func Launch(socket string, command []string, env []string) error {
	fds, err := Fetch(socket, 2)
	if err != nil {
		return err
	}
	hs := Handshake{ReadFD: int32(fds[0]), WriteFD: int32(fds[1])}
	flags := hs.String()

	base := env
	if base == nil {
		base = os.Environ()
	}
	childEnv := append(append([]string(nil), base...),
		"CARGO_MAKEFLAGS="+flags,
		"MAKEFLAGS="+flags,
	)

	if len(command) == 0 {
		return berr.New(berr.Configuration, "no command given to exec")
	}
	path, err := lookPath(command[0])
	if err != nil {
		return berr.Wrap(berr.Subprocess, err, "resolving %s", command[0])
	}
	if err := unix.Exec(path, command, childEnv); err != nil {
		return berr.Wrap(berr.Subprocess, err, "exec of %v failed", command)
	}
	// unix.Exec only returns on failure.
	return nil
}
