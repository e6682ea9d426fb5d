package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageArgs_EmitsFixedKeySet(t *testing.T) {
	r := PackageRequest{
		PackageName: "glibc",
		DestRepo:    "core",
		Variant: VariantContext{
			Name:     "aws-dev",
			Family:   "aws",
			Flavor:   "dev",
			Platform: "metal",
			Runtime:  "ec2",
		},
	}
	b := &argBuilder{}
	require.NoError(t, packageArgs(b, r))

	assert.Contains(t, b.args, "PACKAGE=glibc")
	assert.Contains(t, b.args, "REPO=core")
	assert.Contains(t, b.args, "VARIANT=aws-dev")
	assert.Contains(t, b.args, "VARIANT_FAMILY=aws")
	assert.Contains(t, b.args, "VARIANT_FLAVOR=dev")
	assert.Contains(t, b.args, "VARIANT_PLATFORM=metal")
	assert.Contains(t, b.args, "VARIANT_RUNTIME=ec2")
}

func TestImageArgs_DefaultsPublishSizeToLiveSize(t *testing.T) {
	r := ImageRequest{
		Variant:          VariantContext{Name: "aws-dev"},
		OSImageSizeGiB:   4,
		DataImageSizeGiB: 8,
	}
	b := &argBuilder{}
	require.NoError(t, imageArgs(b, r))

	assert.Contains(t, b.args, "OS_IMAGE_PUBLISH_SIZE_GIB=4")
	assert.Contains(t, b.args, "DATA_IMAGE_PUBLISH_SIZE_GIB=8")
}

func TestFeatureArgs_SortedAndValueOne(t *testing.T) {
	features := map[ImageFeature]struct{}{
		"GRUB_SET_PRIVATE_VAR": {},
		"CGROUPSV2":            {},
	}
	b := &argBuilder{}
	featureArgs(b, features)

	assert.Equal(t, []string{
		"--build-arg", "CGROUPSV2=1",
		"--build-arg", "GRUB_SET_PRIVATE_VAR=1",
	}, b.args)
}

func TestCommonArgs_IncludesBypassSocket(t *testing.T) {
	b := &argBuilder{}
	commonArgs(b, ArchX86_64, "sdk:latest", "12345", "abcdef012345", "jobs-sock", "tag-bypass", nil)

	assert.Contains(t, b.args, "ARCH=x86_64")
	assert.Contains(t, b.args, "GOARCH=amd64")
	assert.Contains(t, b.args, "BYPASS_SOCKET=tag-bypass")
	assert.Contains(t, b.args, "JOBS_SOCKET=jobs-sock")
}
