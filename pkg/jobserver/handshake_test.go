package jobserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distroforge/buildsys/pkg/berr"
)

func TestParseHandshake_Valid(t *testing.T) {
	hs, err := ParseHandshake("-j --jobserver-fds=3,4 --jobserver-auth=3,4")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hs.ReadFD)
	assert.Equal(t, int32(4), hs.WriteFD)
}

func TestParseHandshake_Empty(t *testing.T) {
	_, err := ParseHandshake("")
	require.Error(t, err)
	assert.True(t, berr.Is(err, berr.Configuration))
}

func TestParseHandshake_Mismatched(t *testing.T) {
	_, err := ParseHandshake("-j --jobserver-fds=3,4 --jobserver-auth=5,4")
	require.Error(t, err)
	assert.True(t, berr.Is(err, berr.Configuration))

	_, err = ParseHandshake("-j --jobserver-fds=3,4 --jobserver-auth=3,5")
	require.Error(t, err)
	assert.True(t, berr.Is(err, berr.Configuration))
}

func TestParseHandshake_Overflow(t *testing.T) {
	_, err := ParseHandshake("-j --jobserver-fds=18446744073709551615,4 --jobserver-auth=18446744073709551615,4")
	require.Error(t, err)
	assert.True(t, berr.Is(err, berr.Configuration))
}

func TestHandshake_String(t *testing.T) {
	hs := Handshake{ReadFD: 3, WriteFD: 4}
	assert.Equal(t, "-j --jobserver-fds=3,4 --jobserver-auth=3,4", hs.String())
}
