package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanBuildFiles_EmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	buildDir := filepath.Join(dir, "state")
	outputDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	require.NoError(t, cleanBuildFiles(buildDir, outputDir))
}

func TestCleanBuildFiles_SweepsMarkerAndEmptiesDir(t *testing.T) {
	dir := t.TempDir()
	buildDir := filepath.Join(dir, "state")
	outputDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "a"), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "a", "b.rpm"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "a", "b.rpm"+markerExtension), nil, 0o644))

	require.NoError(t, cleanBuildFiles(buildDir, outputDir))

	_, err := os.Stat(filepath.Join(outputDir, "a", "b.rpm"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(buildDir, "a", "b.rpm"+markerExtension))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(outputDir, "a"))
	assert.True(t, os.IsNotExist(err), "now-empty directory should be removed")
}

func TestCleanBuildFiles_ToleratesMissingOutput(t *testing.T) {
	dir := t.TempDir()
	buildDir := filepath.Join(dir, "state")
	outputDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "b.rpm"+markerExtension), nil, 0o644))

	require.NoError(t, cleanBuildFiles(buildDir, outputDir))
	_, err := os.Stat(filepath.Join(buildDir, "b.rpm"+markerExtension))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyBuildFiles_MovesArtifactsAndWritesMarkers(t *testing.T) {
	dir := t.TempDir()
	buildDir := filepath.Join(dir, "state")
	outputDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "nested"), 0o755))
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "nested", "c.rpm"), []byte("data"), 0o644))

	require.NoError(t, copyBuildFiles(buildDir, outputDir))

	content, err := os.ReadFile(filepath.Join(outputDir, "nested", "c.rpm"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))

	_, err = os.Stat(filepath.Join(buildDir, "nested", "c.rpm"+markerExtension))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(buildDir, "nested", "c.rpm"))
	assert.True(t, os.IsNotExist(err), "artifact should have been moved, not copied")
}
