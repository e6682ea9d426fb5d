// Package fdbroker implements the FdBroker described in spec §4.2: a
// server that sends a fixed ordered list of file descriptors to each
// authorized client connecting over an abstract-namespace UNIX seqpacket
// socket.
//
// The wire primitives (SCM_RIGHTS send/receive, peer credentials) are
// grounded on github.com/containers/buildah's internal fd-passing helper
// (internal/open/open_unix.go, run_common.go's runAcceptTerminal), part
// of the teacher's own vendored dependency closure.
package fdbroker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/boz/go-throttle"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/distroforge/buildsys/pkg/berr"
)

// payload is the fixed three-byte message sent alongside the descriptor
// list, per spec §4.2.
const payload = "fds"

// badPeerLogThrottle bounds how often the "ignoring connection from peer
// with UID" warning can fire, so a looping misbehaving client can't flood
// the log.
const badPeerLogThrottle = 2 * time.Second

// Config describes how a Broker is constructed. Exactly one of Paths or
// FDs must be populated (spec §3's BrokerConfig invariant).
type Config struct {
	// Socket is the abstract-namespace address to bind (no leading NUL;
	// Broker adds it).
	Socket string
	// ClientUID is the only effective UID accepted on this socket.
	ClientUID uint32
	// Paths are opened read-only, not-create, and served in order.
	Paths []string
	// FDs are descriptors already held by this process, served in order
	// after any Paths.
	FDs []int
}

// ForPaths builds a path-mode Config.
func ForPaths(socket string, clientUID uint32, paths []string) Config {
	return Config{Socket: socket, ClientUID: clientUID, Paths: paths}
}

// ForFDs builds an fd-mode Config.
func ForFDs(socket string, clientUID uint32, fds []int) Config {
	return Config{Socket: socket, ClientUID: clientUID, FDs: fds}
}

func (c Config) validate() error {
	hasPaths := len(c.Paths) > 0
	hasFDs := len(c.FDs) > 0
	if hasPaths == hasFDs {
		return berr.New(berr.Configuration, "broker config must set exactly one of Paths or FDs")
	}
	return nil
}

// Broker is an FdBroker instance bound to one abstract socket.
type Broker struct {
	cfg Config
	log *logrus.Entry

	mu        deadlock.Mutex
	listenFD  int
	files     []*os.File
	servedFDs []int

	badPeer *throttle.Throttler
}

// New validates cfg and returns an unbound Broker.
func New(cfg Config, log *logrus.Entry) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Broker{
		cfg:      cfg,
		log:      log.WithField("socket", cfg.Socket),
		listenFD: -1,
	}
	b.badPeer = throttle.ThrottleFunc(badPeerLogThrottle, true, func() {
		b.log.Warn("ignoring connection from peer with unexpected UID")
	})
	return b, nil
}

// Bind opens any configured paths, binds the abstract socket, and starts
// listening. It must complete (successfully or not) before the caller
// starts whatever subprocess depends on this broker being reachable
// (spec §5's ordering guarantee). Binding failures are fatal to the
// broker per spec §4.2.
func (b *Broker) Bind() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.cfg.Paths) > 0 {
		for _, p := range b.cfg.Paths {
			f, err := os.OpenFile(p, os.O_RDONLY, 0)
			if err != nil {
				return berr.Wrap(berr.Filesystem, err, "opening %s", p)
			}
			b.files = append(b.files, f)
			b.servedFDs = append(b.servedFDs, int(f.Fd()))
		}
	}
	b.servedFDs = append(b.servedFDs, b.cfg.FDs...)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return berr.Wrap(berr.Concurrency, err, "creating socket for %s", b.cfg.Socket)
	}
	addr := &unix.SockaddrUnix{Name: "\x00" + b.cfg.Socket}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return berr.Wrap(berr.Concurrency, err, "binding to socket %s", b.cfg.Socket)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return berr.Wrap(berr.Concurrency, err, "listening on socket %s", b.cfg.Socket)
	}
	b.listenFD = fd
	return nil
}

// Run accepts connections until ctx is cancelled or the listening socket
// is closed. Each accepted connection is handled in its own goroutine so
// one slow client cannot block new accepts. Run never returns a
// non-nil error during normal operation; it returns nil once the
// listener is closed out from under it.
func (b *Broker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Close()
	}()

	for {
		connFD, _, err := unix.Accept(b.listenFD)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == unix.EBADF || err == unix.EINVAL {
				// Closed out from under us during shutdown.
				return nil
			}
			b.log.WithError(err).Warn("accept failed")
			continue
		}
		go b.handle(connFD)
	}
}

func (b *Broker) handle(connFD int) {
	defer unix.Close(connFD)

	cred, err := unix.GetsockoptUcred(connFD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		b.log.WithError(err).Warn("failed to obtain peer credentials")
		return
	}
	if cred.Uid != b.cfg.ClientUID {
		b.badPeer.Trigger()
		return
	}

	b.mu.Lock()
	fds := append([]int(nil), b.servedFDs...)
	b.mu.Unlock()

	rights := unix.UnixRights(fds...)
	if err := unix.Sendmsg(connFD, []byte(payload), rights, nil, 0); err != nil {
		b.log.WithError(err).Warn("failed to send file descriptors")
	}
}

// Close releases the listening socket and any opened path files. The
// broker owns these files for its whole lifetime; callers must not close
// the underlying descriptors while the broker runs (spec §3's ownership
// invariant).
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.listenFD >= 0 {
		// On Linux, close alone does not wake an accept blocked on this
		// socket in Run; shutdown makes it return EINVAL.
		unix.Shutdown(b.listenFD, unix.SHUT_RDWR)
		if err := unix.Close(b.listenFD); err != nil && firstErr == nil {
			firstErr = err
		}
		b.listenFD = -1
	}
	for _, f := range b.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.files = nil
	if firstErr != nil {
		return fmt.Errorf("closing broker %s: %w", b.cfg.Socket, firstErr)
	}
	return nil
}
