package build

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mcuadros/go-lookup"
	"github.com/samber/lo"

	"github.com/distroforge/buildsys/pkg/berr"
	"github.com/distroforge/buildsys/pkg/build/manifest"
)

// argBuilder accumulates "--build-arg KEY=VALUE" and
// "--secret type=T,id=ID,src=SRC" pairs, standing in for the Rust
// BuildArg/BuildSecret traits in builder.rs.
type argBuilder struct {
	args []string
}

func (b *argBuilder) arg(key, value string) {
	b.args = append(b.args, "--build-arg", fmt.Sprintf("%s=%s", key, value))
}

func (b *argBuilder) intArg(key string, value int) {
	b.arg(key, fmt.Sprintf("%d", value))
}

func (b *argBuilder) secret(typ, id, src string) {
	b.args = append(b.args, "--secret", fmt.Sprintf("type=%s,id=%s,src=%s", typ, id, src))
}

// variantArgs emits VARIANT and the four VARIANT_* build args, looking
// up the family/flavor/platform/runtime fields by name off v the way the
// teacher's custom-command templating resolves fields dynamically.
func variantArgs(b *argBuilder, v VariantContext) error {
	b.arg("VARIANT", v.Name)
	for _, field := range []string{"Family", "Flavor", "Platform", "Runtime"} {
		val, err := lookup.LookupString(v, field)
		if err != nil {
			return berr.Wrap(berr.Configuration, err, "looking up variant field %s", field)
		}
		b.arg("VARIANT_"+strings.ToUpper(field), val.String())
	}
	return nil
}

// featureArgs emits one --build-arg per ImageFeature, value "1", in a
// stable sorted order so argv is deterministic across runs. Duplicates
// are impossible because features is a set (spec §3).
func featureArgs(b *argBuilder, features map[ImageFeature]struct{}) {
	names := lo.Keys(features)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, f := range names {
		b.arg(string(f), "1")
	}
}

// commonArgs emits the build args shared by both build kinds (spec §4.1).
func commonArgs(b *argBuilder, arch Arch, sdk, nocache, token, jobsSocket, bypassSocket string, features map[ImageFeature]struct{}) {
	b.arg("ARCH", string(arch))
	b.arg("GOARCH", arch.GOARCH())
	b.arg("SDK", sdk)
	b.arg("NOCACHE", nocache)
	b.arg("TOKEN", token)
	b.arg("JOBS_SOCKET", jobsSocket)
	b.arg("BYPASS_SOCKET", bypassSocket)
	featureArgs(b, features)
}

// packageArgs emits the build args specific to a package build.
func packageArgs(b *argBuilder, r PackageRequest) error {
	b.arg("PACKAGE", r.name())
	b.arg("REPO", r.DestRepo)
	if err := variantArgs(b, r.Variant); err != nil {
		return err
	}
	return nil
}

// imageArgs emits the build args specific to an image build.
func imageArgs(b *argBuilder, r ImageRequest) error {
	osPublish, dataPublish := publishSizes(r)
	b.arg("IMAGE_NAME", r.name())
	b.arg("IMAGE_FORMAT", defaultString(string(r.Format), string(manifest.ImageFormatRaw)))
	b.arg("PARTITION_PLAN", string(r.Partition))
	b.arg("KERNEL_PARAMETERS", strings.Join(r.KernelParameters, " "))
	b.arg("PACKAGES", strings.Join(r.Packages, " "))
	b.arg("PRETTY_NAME", r.PrettyName)
	b.intArg("OS_IMAGE_SIZE_GIB", r.OSImageSizeGiB)
	b.intArg("OS_IMAGE_PUBLISH_SIZE_GIB", osPublish)
	b.intArg("DATA_IMAGE_SIZE_GIB", r.DataImageSizeGiB)
	b.intArg("DATA_IMAGE_PUBLISH_SIZE_GIB", dataPublish)
	b.arg("BUILD_ID", r.BuildID)
	b.arg("VERSION_ID", r.VersionID)
	if err := variantArgs(b, r.Variant); err != nil {
		return err
	}
	return nil
}

// publishSizes defaults the publish sizes to the live sizes when unset,
// matching manifest.ImageLayout.PublishSizes.
func publishSizes(r ImageRequest) (os, data int) {
	os = r.OSImagePublishSizeGiB
	if os == 0 {
		os = r.OSImageSizeGiB
	}
	data = r.DataImagePublishSizeGiB
	if data == 0 {
		data = r.DataImageSizeGiB
	}
	return os, data
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
