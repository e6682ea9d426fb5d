package build

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/distroforge/buildsys/pkg/berr"
)

// markerExtension marks a zero-byte sentinel recording that a build
// artifact at the corresponding path (with the extension stripped) was
// produced by a previous build (spec §3's MarkerSet).
const markerExtension = ".buildsys_marker"

// createMarkerDir ensures <stateDir>/<arch>/<kind-prefix>/<name> exists and
// returns it.
func createMarkerDir(kind Kind, name, arch, stateDir string) (string, error) {
	path := filepath.Join(stateDir, arch, kind.markerPrefix(), name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", berr.Wrap(berr.Filesystem, err, "creating marker dir %s", path)
	}
	return path, nil
}

// cleanBuildFiles removes every output file this build previously produced
// (tracked by a marker under buildDir), the markers themselves, and any
// directory left empty as a result. Foreign files under buildDir that are
// not markers are left untouched.
func cleanBuildFiles(buildDir, outputDir string) error {
	markers, err := findFiles(buildDir, isMarkerEntry)
	if err != nil {
		return err
	}

	cleanDirs := map[string]struct{}{}

	for _, marker := range markers {
		rel, err := filepath.Rel(buildDir, marker)
		if err != nil {
			return berr.Wrap(berr.Filesystem, err, "computing relative path for %s", marker)
		}
		outputFile := filepath.Join(outputDir, strings.TrimSuffix(rel, markerExtension))

		if err := cleanupOne(outputFile, outputDir, cleanDirs); err != nil {
			return err
		}
		if err := cleanupOne(marker, buildDir, cleanDirs); err != nil {
			return err
		}
	}

	dirs := make([]string, 0, len(cleanDirs))
	for d := range cleanDirs {
		dirs = append(dirs, d)
	}
	// Deepest first, so a now-empty child doesn't block its parent.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, dir := range dirs {
		empty, err := isEmptyDir(dir)
		if err != nil {
			return err
		}
		if empty {
			if err := os.Remove(dir); err != nil {
				return berr.Wrap(berr.Filesystem, err, "removing empty dir %s", dir)
			}
		}
	}
	return nil
}

// cleanupOne removes path if it exists, then records every ancestor of path
// up to (but excluding) top as a directory worth re-checking for emptiness.
func cleanupOne(path, top string, cleanDirs map[string]struct{}) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return berr.Wrap(berr.Filesystem, err, "checking %s", path)
	}
	if err := os.Remove(path); err != nil {
		return berr.Wrap(berr.Filesystem, err, "removing %s", path)
	}

	top = filepath.Clean(top)
	for parent := filepath.Dir(path); parent != top; parent = filepath.Dir(parent) {
		if _, seen := cleanDirs[parent]; seen {
			break
		}
		cleanDirs[parent] = struct{}{}
		if parent == filepath.Dir(parent) {
			break
		}
	}
	return nil
}

func isEmptyDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, berr.Wrap(berr.Filesystem, err, "checking %s", path)
	}
	if !info.IsDir() {
		return false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, berr.Wrap(berr.Filesystem, err, "reading dir %s", path)
	}
	return len(entries) == 0, nil
}

// copyBuildFiles moves every non-marker artifact under buildDir into
// outputDir, creating a fresh marker alongside each one so a later build
// can find and clean it up.
func copyBuildFiles(buildDir, outputDir string) error {
	artifacts, err := findFiles(buildDir, isArtifactEntry)
	if err != nil {
		return err
	}

	for _, artifact := range artifacts {
		marker := artifact + markerExtension
		f, err := os.Create(marker)
		if err != nil {
			return berr.Wrap(berr.Filesystem, err, "creating marker %s", marker)
		}
		f.Close()

		rel, err := filepath.Rel(buildDir, artifact)
		if err != nil {
			return berr.Wrap(berr.Filesystem, err, "computing relative path for %s", artifact)
		}
		outputFile := filepath.Join(outputDir, rel)

		if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
			return berr.Wrap(berr.Filesystem, err, "creating dir for %s", outputFile)
		}
		if err := os.Rename(artifact, outputFile); err != nil {
			return berr.Wrap(berr.Filesystem, err, "moving %s to %s", artifact, outputFile)
		}
	}
	return nil
}

// findFiles walks dir (not following symlinks, min depth 1) returning the
// paths of every file or symlink whose containing walk entry passes keep.
func findFiles(dir string, keep func(path string, d fs.DirEntry) bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return nil
			}
			return err
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			if !keep(path, d) {
				return filepath.SkipDir
			}
			return nil
		}
		if !keep(path, d) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() || info.Mode()&fs.ModeSymlink != 0 {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, berr.Wrap(berr.Filesystem, err, "walking %s", dir)
	}
	return out, nil
}

func isMarkerEntry(_ string, d fs.DirEntry) bool {
	if d.IsDir() {
		return true
	}
	return d.Type().IsRegular() && strings.HasSuffix(d.Name(), markerExtension)
}

func isArtifactEntry(_ string, d fs.DirEntry) bool {
	if d.IsDir() {
		return true
	}
	if d.Type()&fs.ModeSymlink != 0 {
		return true
	}
	return d.Type().IsRegular() && !strings.HasSuffix(d.Name(), markerExtension)
}
