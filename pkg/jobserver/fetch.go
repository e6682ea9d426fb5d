package jobserver

import (
	"golang.org/x/sys/unix"

	"github.com/distroforge/buildsys/pkg/berr"
)

// MinFD is the lowest descriptor number the fetch helper will accept or
// produce; descriptors 0-2 are reserved for stdio and discarding one
// below this floor is a protocol error (spec §4.3, GLOSSARY).
const MinFD = 3

// Fetch connects to the named abstract socket and receives exactly
// wanted descriptors, duplicating each to a descriptor >= MinFD with
// close-on-exec cleared, in receive order. Any received descriptor
// numerically below MinFD is a protocol error, not silently dropped
// (spec §9's open question: report the actual requested count, not a
// hardcoded "expected 1").
func Fetch(socket string, wanted int) ([]int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, berr.Wrap(berr.Protocol, err, "creating socket to connect to %s", socket)
	}
	defer unix.Close(fd)

	addr := &unix.SockaddrUnix{Name: "\x00" + socket}
	if err := unix.Connect(fd, addr); err != nil {
		return nil, berr.Wrap(berr.Protocol, err, "connecting to socket %s", socket)
	}

	buf := make([]byte, 8)
	oob := make([]byte, unix.CmsgSpace(wanted*4))
	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, berr.Wrap(berr.Protocol, err, "receiving file descriptors from socket %s", socket)
	}
	_ = n

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, berr.Wrap(berr.Protocol, err, "parsing control message from socket %s", socket)
	}

	var received []int
	for i := range scms {
		fds, err := unix.ParseUnixRights(&scms[i])
		if err != nil {
			return nil, berr.Wrap(berr.Protocol, err, "parsing rights message %d from socket %s", i, socket)
		}
		received = append(received, fds...)
	}

	if len(received) != wanted {
		closeAll(received)
		return nil, berr.New(berr.Protocol,
			"received %d file descriptors, expected %d", len(received), wanted)
	}

	dup := make([]int, 0, len(received))
	for _, rfd := range received {
		if rfd < MinFD {
			closeAll(received)
			closeAll(dup)
			return nil, berr.New(berr.Protocol, "received file descriptor %d below the reserved stdio floor of %d", rfd, MinFD)
		}
		// F_DUPFD (unlike dup2) never copies FD_CLOEXEC onto the new
		// descriptor, which is what guarantees it survives exec.
		newfd, err := unix.FcntlInt(uintptr(rfd), unix.F_DUPFD, MinFD)
		if err != nil {
			closeAll(received)
			closeAll(dup)
			return nil, berr.Wrap(berr.Protocol, err, "duplicating file descriptor %d", rfd)
		}
		dup = append(dup, newfd)
	}
	closeAll(received)

	return dup, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
