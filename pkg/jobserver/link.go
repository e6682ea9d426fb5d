package jobserver

import (
	"fmt"
	"os"

	"github.com/distroforge/buildsys/pkg/berr"
)

// FetchAndLink fetches a single directory file descriptor from socket and
// creates a symlink at target pointing through /proc/self/fd/<n>, which
// is the only way to materialize a raw, un-opened file descriptor as a
// path without further syscalls. This is the "link" subcommand from
// original_source's pipesys, dropped from spec.md's distillation but
// restored per SPEC_FULL.md §12.1.
func FetchAndLink(socket, target string) error {
	fds, err := Fetch(socket, 1)
	if err != nil {
		return err
	}
	fd := fds[0]

	source := fmt.Sprintf("/proc/self/fd/%d", fd)
	if err := os.Symlink(source, target); err != nil {
		return berr.Wrap(berr.Filesystem, err, "linking %s to %s", target, source)
	}
	return nil
}
