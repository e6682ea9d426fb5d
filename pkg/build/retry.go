package build

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/distroforge/buildsys/pkg/berr"
)

// dockerBuildMaxAttempts bounds the retry loop for known transient
// container-builder failures (spec §6).
const dockerBuildMaxAttempts = 10

// Known transient BuildKit/createrepo_c failure signatures, grounded on
// builder.rs's DOCKER_BUILD_FRONTEND_ERROR / DOCKER_BUILD_DEAD_RECORD_ERROR /
// UNEXPECTED_EOF_ERROR / CREATEREPO_C_READ_HEADER_ERROR. Only the EOF
// signature is anchored per-line; the others are matched as plain
// substrings anywhere in the captured output.
var (
	dockerBuildFrontendError = regexp.MustCompile(regexp.QuoteMeta(
		"failed to solve with frontend dockerfile.v0: " +
			"failed to solve with frontend gateway.v0: " +
			"frontend grpc server closed unexpectedly"))

	dockerBuildDeadRecordError = regexp.MustCompile(regexp.QuoteMeta(
		"failed to solve with frontend dockerfile.v0: " +
			"failed to solve with frontend gateway.v0: " +
			"rpc error: code = Unknown desc = failed to build LLB: " +
			"failed to get dead record"))

	unexpectedEOFError = regexp.MustCompile(`(?m)unexpected EOF$`)

	createrepoCReadHeaderError = regexp.MustCompile(regexp.QuoteMeta(
		"C_CREATEREPOLIB: Warning: read_header: rpmReadPackageFile() error"))
)

var transientPatterns = []*regexp.Regexp{
	dockerBuildFrontendError,
	dockerBuildDeadRecordError,
	unexpectedEOFError,
	createrepoCReadHeaderError,
}

// isTransient reports whether output carries the signature of a known
// flaky container-builder failure worth retrying.
func isTransient(output []byte) bool {
	for _, p := range transientPatterns {
		if p.Match(output) {
			return true
		}
	}
	return false
}

// runBuilder runs the builder binary with args, echoing its combined
// stdout+stderr to the driver's own stdout as it streams (so CI logs show
// build progress live). On a non-zero exit it runs the command again, up to
// dockerBuildMaxAttempts attempts in total, if-and-only-if the captured
// output matches one of the known transient failure signatures (spec §6).
func runBuilder(ctx context.Context, log *logrus.Entry, builder string, args []string) error {
	var lastErr error
	for attempt := 1; attempt <= dockerBuildMaxAttempts; attempt++ {
		var buf bytes.Buffer
		cmd := exec.CommandContext(ctx, builder, args...)
		cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
		cmd.Stderr = io.MultiWriter(os.Stdout, &buf)

		log.WithField("attempt", attempt).Infof("running %s %v", builder, args)
		err := cmd.Run()
		if err == nil {
			return nil
		}

		lastErr = berr.Wrap(berr.Subprocess, err, "%s %v", builder, args)
		if !isTransient(buf.Bytes()) {
			return lastErr
		}
		log.WithField("attempt", attempt).Warn("retrying after transient container-builder failure")
	}
	return berr.Wrap(berr.Subprocess, lastErr, "exhausted %d attempts", dockerBuildMaxAttempts)
}

// logWriter adapts a logrus.Entry into an io.Writer that emits one Info
// line per Write call, the way the teacher streams subprocess output
// line-by-line instead of buffering it silently.
type logWriter struct {
	log *logrus.Entry
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Info(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
