// Package build implements the BuildDriver described in spec §4.1: it
// orchestrates one containerized package or image build end to end,
// including the coupled FdBroker/JobserverBridge sidecars and the
// marker-file artifact lifecycle.
//
// Grounded directly on original_source/tools/buildsys/src/builder.rs,
// which this package is a line-for-line-in-spirit translation of; the
// subprocess-running idiom (logging before/after, capturing combined
// output) is grounded on the teacher's pkg/commands/os.go.
package build

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/distroforge/buildsys/pkg/berr"
	"github.com/distroforge/buildsys/pkg/build/manifest"
)

// Arch is a closed set of supported target architectures (spec §3's
// invariant that the architecture string is one of a closed set).
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAarch64 Arch = "aarch64"
)

// goarch maps the buildsys architecture name to Go's GOARCH, per spec
// §4.1's "GOARCH (mapped from ARCH by a small table)".
var goarch = map[Arch]string{
	ArchX86_64:  "amd64",
	ArchAarch64: "arm64",
}

func (a Arch) valid() bool {
	_, ok := goarch[a]
	return ok
}

// GOARCH returns the Go architecture name for a, or "" if a is not a
// recognized architecture.
func (a Arch) GOARCH() string {
	return goarch[a]
}

// ImageFormat and PartitionPlan re-exported from manifest for callers
// that only import pkg/build.
type (
	ImageFormat   = manifest.ImageFormat
	PartitionPlan = manifest.PartitionPlan
	ImageFeature  = manifest.ImageFeature
)

// Kind distinguishes a package build from an image (variant) build.
type Kind int

const (
	KindPackage Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "package"
}

// markerPrefix is the directory segment under <state>/<arch>/ a build's
// markers live in, per spec §3's MarkerSet layout.
func (k Kind) markerPrefix() string {
	if k == KindImage {
		return "variants"
	}
	return "packages"
}

// Common holds the fields shared by package and image requests (spec §3).
type Common struct {
	Arch         Arch
	SDKImage     string // image reference used as the build container's FROM
	RootDir      string // absolute path, must contain the build recipe
	ToolsDir     string // contains the recipe
	ArtifactsDir string // output artifacts directory
	StateDir     string // for markers and scratch
}

func (c Common) validate() error {
	if !c.Arch.valid() {
		return berr.New(berr.Configuration, "unsupported architecture %q", c.Arch)
	}
	if !filepath.IsAbs(c.RootDir) {
		return berr.New(berr.Configuration, "root dir %q must be absolute", c.RootDir)
	}
	recipe := filepath.Join(c.ToolsDir, "Dockerfile")
	if _, err := statFile(recipe); err != nil {
		return berr.Wrap(berr.Configuration, err, "tools dir %q must contain the build recipe", c.ToolsDir)
	}
	return nil
}

// VariantContext steers conditional package compilation (spec §3).
type VariantContext struct {
	Name     string
	Family   string
	Flavor   string
	Platform string
	Runtime  string
}

// PackageRequest is a BuildRequest for a single package build.
type PackageRequest struct {
	Common
	PackageName   string // logical package name
	OverrideName  string // optional override, wins if set
	DestRepo      string // destination repository label
	Variant       VariantContext
	ImageFeatures map[ImageFeature]struct{}
}

func (r PackageRequest) validate() error {
	if err := r.Common.validate(); err != nil {
		return err
	}
	if r.PackageName == "" && r.OverrideName == "" {
		return berr.New(berr.Configuration, "package build requires a package name")
	}
	return nil
}

func (r PackageRequest) name() string {
	if r.OverrideName != "" {
		return r.OverrideName
	}
	return r.PackageName
}

// ImageRequest is a BuildRequest for a single image (variant) build.
type ImageRequest struct {
	Common
	Variant                 VariantContext
	Format                  ImageFormat
	Partition               PartitionPlan
	OSImageSizeGiB          int
	OSImagePublishSizeGiB   int
	DataImageSizeGiB        int
	DataImagePublishSizeGiB int
	KernelParameters        []string
	Packages                []string
	PrettyName              string
	BuildID                 string
	VersionID               string
	ImageFeatures           map[ImageFeature]struct{}
}

func (r ImageRequest) validate() error {
	if err := r.Common.validate(); err != nil {
		return err
	}
	for _, size := range []int{r.OSImageSizeGiB, r.OSImagePublishSizeGiB, r.DataImageSizeGiB, r.DataImagePublishSizeGiB} {
		if size < 0 {
			return berr.New(berr.Configuration, "image sizes must be non-negative")
		}
	}
	switch r.Format {
	case manifest.ImageFormatRaw, manifest.ImageFormatQcow2, manifest.ImageFormatVmdk, "":
	default:
		return berr.New(berr.Configuration, "unsupported image format %q", r.Format)
	}
	return nil
}

func (r ImageRequest) name() string {
	return r.Variant.Name
}

// Token returns the stable 12-character hex suffix derived from the
// SHA-512 of the canonical root directory path (spec §3's TagToken).
func Token(rootDir string) string {
	if canonical, err := filepath.EvalSymlinks(rootDir); err == nil {
		rootDir = canonical
	}
	sum := sha512.Sum512([]byte(rootDir))
	return hex.EncodeToString(sum[:])[:12]
}

// appendToken appends "-<token>" to tag, per the original's append_token.
func appendToken(tag, rootDir string) string {
	return fmt.Sprintf("%s-%s", tag, Token(rootDir))
}

// newCacheBuster draws a fresh 32-bit unsigned random value, stringified
// for use as a --build-arg defeating layer caching (spec §3's
// CacheBuster).
func newCacheBuster() string {
	return fmt.Sprintf("%d", rand.Uint32())
}

// SocketName builds the "buildsys-<role>-<token>-<cachebuster>" form from
// spec §3.
func SocketName(role, token, cacheBuster string) string {
	return fmt.Sprintf("buildsys-%s-%s-%s", role, token, cacheBuster)
}
