package fdbroker

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/distroforge/buildsys/pkg/berr"
	"github.com/distroforge/buildsys/pkg/buildlog"
)

func testSocketName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("buildsys-test-%d-%d", os.Getpid(), rand.Int())
}

func TestConfig_ExactlyOnePopulated(t *testing.T) {
	_, err := New(Config{Socket: "x", ClientUID: 1}, buildlog.Discard())
	require.Error(t, err)
	assert.True(t, berr.Is(err, berr.Configuration))

	_, err = New(ForPaths("x", 1, []string{"a"}), buildlog.Discard())
	require.NoError(t, err)
}

func TestBroker_ServesConfiguredFDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	socket := testSocketName(t)
	cfg := ForPaths(socket, uint32(os.Getuid()), []string{path})
	broker, err := New(cfg, buildlog.Discard())
	require.NoError(t, err)
	require.NoError(t, broker.Bind())
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.Run(ctx)

	fd, err := connectAndReceive(socket, 1)
	require.NoError(t, err)
	require.Len(t, fd, 1)

	f := os.NewFile(uintptr(fd[0]), "received")
	defer f.Close()
	data := make([]byte, 5)
	n, err := f.Read(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data[:n]))
}

func TestBroker_RejectsWrongUID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	socket := testSocketName(t)
	// Expect a UID that can never match the test process's own UID.
	cfg := ForPaths(socket, uint32(os.Getuid())+1, []string{path})
	broker, err := New(cfg, buildlog.Discard())
	require.NoError(t, err)
	require.NoError(t, broker.Bind())
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.Run(ctx)

	_, err = connectAndReceive(socket, 1)
	assert.Error(t, err, "connection from an unexpected UID must not receive descriptors")
}

// connectAndReceive is a minimal seqpacket client used only to exercise
// Broker from the test, independent of pkg/jobserver.Fetch.
func connectAndReceive(socket string, wanted int) ([]int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	addr := &unix.SockaddrUnix{Name: "\x00" + socket}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := unix.Connect(fd, addr); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(10 * time.Millisecond)
	}

	unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{Sec: 1})

	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(wanted*4))
	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, err
	}
	if n == 0 && oobn == 0 {
		return nil, fmt.Errorf("connection closed without data")
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			return nil, err
		}
		fds = append(fds, got...)
	}
	return fds, nil
}
