// Package jobserver implements the JobserverBridge described in spec
// §4.3: parsing the outer coordinator's jobserver handshake, fetching the
// underlying descriptors from an FdBroker running in fd mode, and
// reconstructing the handshake for a child process inside the container.
//
// Grounded on original_source/tools/buildsys/src/builder.rs's
// parse_makeflags (outer parse) and
// original_source/tools/pipesys/src/cmd/{make,mod}.rs (inner fetch and
// launch).
package jobserver

import (
	"regexp"
	"strconv"

	"github.com/distroforge/buildsys/pkg/berr"
)

// Handshake is the parsed (read, write) descriptor pair from spec §3.
type Handshake struct {
	ReadFD  int32
	WriteFD int32
}

// String renders the reconstructed handshake form:
// "-j --jobserver-fds=R,W --jobserver-auth=R,W".
func (h Handshake) String() string {
	return "-j --jobserver-fds=" + strconv.Itoa(int(h.ReadFD)) + "," + strconv.Itoa(int(h.WriteFD)) +
		" --jobserver-auth=" + strconv.Itoa(int(h.ReadFD)) + "," + strconv.Itoa(int(h.WriteFD))
}

var makeflagsPattern = regexp.MustCompile(
	`^-j --jobserver-fds=(?P<readfd>[0-9]+),(?P<writefd>[0-9]+) ` +
		`--jobserver-auth=(?P<authread>[0-9]+),(?P<authwrite>[0-9]+)$`,
)

// ParseHandshake parses CARGO_MAKEFLAGS per spec §3/§8 scenario 1-3. The
// -fds pair must be byte-identical to the -auth pair; each half must fit
// a 32-bit signed integer.
func ParseHandshake(input string) (Handshake, error) {
	m := makeflagsPattern.FindStringSubmatch(input)
	if m == nil {
		return Handshake{}, berr.New(berr.Configuration, "jobserver handshake does not match expected grammar: %q", input)
	}
	names := makeflagsPattern.SubexpNames()
	group := make(map[string]string, len(names))
	for i, name := range names {
		if name != "" {
			group[name] = m[i]
		}
	}

	if group["readfd"] != group["authread"] {
		return Handshake{}, berr.New(berr.Configuration,
			"file descriptor mismatch: read fd %s does not match jobserver-auth read fd %s",
			group["readfd"], group["authread"])
	}
	if group["writefd"] != group["authwrite"] {
		return Handshake{}, berr.New(berr.Configuration,
			"file descriptor mismatch: write fd %s does not match jobserver-auth write fd %s",
			group["writefd"], group["authwrite"])
	}

	readFD, err := parseFD(group["readfd"])
	if err != nil {
		return Handshake{}, err
	}
	writeFD, err := parseFD(group["writefd"])
	if err != nil {
		return Handshake{}, err
	}

	return Handshake{ReadFD: readFD, WriteFD: writeFD}, nil
}

func parseFD(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, berr.Wrap(berr.Configuration, err, "parsing file descriptor %q", s)
	}
	return int32(v), nil
}
