// Package buildcfg resolves the handful of environment variables and
// defaults buildsys consumes (spec §6), the way the teacher's pkg/config
// resolves UserConfig against XDG directories.
package buildcfg

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/imdario/mergo"
	yaml "github.com/jesseduffield/yaml"
	bom "github.com/spkg/bom"

	"github.com/distroforge/buildsys/pkg/berr"
)

const appName = "buildsys"

// Environment variable names consumed per spec §6.
const (
	EnvCargoMakeflags  = "CARGO_MAKEFLAGS"
	EnvSbkeysProfile   = "BUILDSYS_SBKEYS_PROFILE_DIR"
	EnvAWSAccessKey    = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretKey    = "AWS_SECRET_ACCESS_KEY"
	EnvAWSSessionToken = "AWS_SESSION_TOKEN"
	EnvStateDir        = "BUILDSYS_STATE_DIR"
)

// AWSEnvVars is the fixed set of cloud credential environment variables
// forwarded as secrets for image builds, in the order they're emitted.
var AWSEnvVars = []string{EnvAWSAccessKey, EnvAWSSecretKey, EnvAWSSessionToken}

// DefaultStateDir returns BUILDSYS_STATE_DIR if set, else a "state"
// directory under buildsys's XDG data directory, mirroring the teacher's
// findOrCreateConfigDir.
func DefaultStateDir() string {
	if dir := os.Getenv(EnvStateDir); dir != "" {
		return dir
	}
	return filepath.Join(xdg.New("", appName).DataHome(), "state")
}

// FileSecret names a single file-secret source discovered under the
// sbkeys profile directory.
type FileSecret struct {
	ID   string // filename, used verbatim as the --secret id
	Path string
}

// EnumerateFileSecrets lists the files under the BUILDSYS_SBKEYS_PROFILE_DIR
// directory named by env, in stable sorted order. It is a fatal
// configuration error for the variable to be unset (spec §4.1).
func EnumerateFileSecrets() ([]FileSecret, error) {
	dir := os.Getenv(EnvSbkeysProfile)
	if dir == "" {
		return nil, berr.New(berr.Configuration, "%s is not set", EnvSbkeysProfile)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, berr.Wrap(berr.Filesystem, err, "reading %s", dir)
	}
	secrets := make([]FileSecret, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		secrets = append(secrets, FileSecret{
			ID:   e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].ID < secrets[j].ID })
	return secrets, nil
}

// MergeDefaults fills dst's zero fields from src, leaving any field dst
// already set untouched, so an explicit value the caller supplied always
// wins over a computed default. mergo.Merge's default (non-override) mode
// already has exactly this behavior, the way the teacher merges UserConfig
// over its yaml defaults.
func MergeDefaults(dst, src interface{}) error {
	if err := mergo.Merge(dst, src); err != nil {
		return berr.Wrap(berr.Configuration, err, "merging configuration defaults")
	}
	return nil
}

// DecodeProfile BOM-strips and YAML-decodes an optional profile/manifest
// override file. A missing path is not an error; it yields a zero value.
func DecodeProfile(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return berr.Wrap(berr.Filesystem, err, "opening %s", path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(bom.NewReader(f))
	if err := dec.Decode(out); err != nil {
		return berr.Wrap(berr.Configuration, err, "decoding %s", path)
	}
	return nil
}
