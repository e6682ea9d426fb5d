package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distroforge/buildsys/pkg/buildlog"
)

func TestIsTransient_MatchesAllFourSignatures(t *testing.T) {
	cases := []string{
		"failed to solve with frontend dockerfile.v0: failed to solve with frontend gateway.v0: frontend grpc server closed unexpectedly",
		"failed to solve with frontend dockerfile.v0: failed to solve with frontend gateway.v0: rpc error: code = Unknown desc = failed to build LLB: failed to get dead record",
		"some preamble\nunexpected EOF\ntrailer",
		"C_CREATEREPOLIB: Warning: read_header: rpmReadPackageFile() error",
	}
	for _, c := range cases {
		assert.True(t, isTransient([]byte(c)), "expected transient match for %q", c)
	}
}

func TestIsTransient_EOFRequiresLineAnchor(t *testing.T) {
	assert.False(t, isTransient([]byte("unexpected EOF trailing garbage")))
}

func TestIsTransient_UnrelatedFailureNotMatched(t *testing.T) {
	assert.False(t, isTransient([]byte("exit status 1: no space left on device")))
}

// TestRunBuilder_RetriesOnTransientThenSucceeds drives a fake "builder"
// script via a counter file: the first nine invocations fail with the
// frontend-crash signature, the tenth succeeds (spec §8 scenario 4).
func TestRunBuilder_RetriesOnTransientThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	script := filepath.Join(dir, "builder.sh")

	const body = `#!/bin/sh
n=0
if [ -f "%s" ]; then n=$(cat "%s"); fi
n=$((n+1))
echo "$n" > "%s"
if [ "$n" -lt 10 ]; then
  echo "failed to solve with frontend dockerfile.v0: failed to solve with frontend gateway.v0: frontend grpc server closed unexpectedly"
  exit 1
fi
exit 0
`
	require.NoError(t, os.WriteFile(script, []byte(fmt.Sprintf(body, counter, counter, counter)), 0o755))

	log := buildlog.Discard()
	err := runBuilder(context.Background(), log, script, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "10\n", string(data))
}

func TestRunBuilder_NonTransientFailureIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "attempts")
	script := filepath.Join(dir, "builder.sh")

	const body = `#!/bin/sh
n=0
if [ -f "%s" ]; then n=$(cat "%s"); fi
n=$((n+1))
echo "$n" > "%s"
echo "totally unrelated failure"
exit 1
`
	require.NoError(t, os.WriteFile(script, []byte(fmt.Sprintf(body, counter, counter, counter)), 0o755))

	log := buildlog.Discard()
	err := runBuilder(context.Background(), log, script, nil)
	require.Error(t, err)

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data), "must not retry a non-transient failure")
}
