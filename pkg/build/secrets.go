package build

import (
	"strings"

	"github.com/distroforge/buildsys/pkg/buildcfg"
)

// secretArgs emits the --secret entries available to an image build: one
// per file under BUILDSYS_SBKEYS_PROFILE_DIR, plus one per AWS credential
// env var name. These are emitted unconditionally, regardless of whether
// the AWS vars are actually set in the environment; most builds never
// reference them, and docker only resolves a secret's source lazily, if
// the Dockerfile mounts it. Package builds never see secrets (spec §4.1).
func secretArgs(b *argBuilder) error {
	files, err := buildcfg.EnumerateFileSecrets()
	if err != nil {
		return err
	}
	for _, f := range files {
		b.secret("file", f.ID, f.Path)
	}

	for _, name := range buildcfg.AWSEnvVars {
		id := strings.ToLower(strings.ReplaceAll(name, "_", "-")) + ".env"
		b.secret("env", id, name)
	}
	return nil
}
