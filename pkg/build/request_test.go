package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken_StableAndTwelveChars(t *testing.T) {
	a := Token("/home/build/checkout-1")
	b := Token("/home/build/checkout-1")
	c := Token("/home/build/checkout-2")

	assert.Len(t, a, 12)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSocketName_Form(t *testing.T) {
	assert.Equal(t, "buildsys-jobserver-abc123-999", SocketName("jobserver", "abc123", "999"))
}

func TestArch_GOARCH(t *testing.T) {
	assert.Equal(t, "amd64", ArchX86_64.GOARCH())
	assert.Equal(t, "arm64", ArchAarch64.GOARCH())
	assert.True(t, ArchX86_64.valid())
	assert.False(t, Arch("riscv64").valid())
}

func TestPackageRequest_NameOverrideWins(t *testing.T) {
	r := PackageRequest{PackageName: "glibc", OverrideName: "glibc-compat"}
	assert.Equal(t, "glibc-compat", r.name())
}
