package hex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimPrefix(t *testing.T) {
	assert.Equal(t, "deadbeef", TrimPrefix("0xdeadbeef"))
	assert.Equal(t, "deadbeef", TrimPrefix("  0Xdeadbeef "))
	assert.Equal(t, "deadbeef", TrimPrefix("deadbeef"))
}

func TestIsHex(t *testing.T) {
	assert.True(t, IsHex("0xdeadbeef"))
	assert.True(t, IsHex("DEADBEEF"))
	assert.False(t, IsHex(""))
	assert.False(t, IsHex("abc"))       // odd length
	assert.False(t, IsHex("not hex!!"))
}

func TestNormalizeDigestAcceptsKnownLengths(t *testing.T) {
	md5 := "D41D8CD98F00B204E9800998ECF8427E"
	got, ok := NormalizeDigest(md5)
	require.True(t, ok)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", got)

	sha1 := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	_, ok = NormalizeDigest(sha1)
	assert.True(t, ok)

	sha256 := "0xE3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"
	got, ok = NormalizeDigest(sha256)
	require.True(t, ok)
	assert.Len(t, got, SHA256Len)
}

func TestNormalizeDigestRejects(t *testing.T) {
	for _, bad := range []string{
		"",
		"deadbeef",                           // too short
		"zzzz8cd98f00b204e9800998ecf8427e",   // not hex
		"d41d8cd98f00b204e9800998ecf8427e00", // between known lengths
	} {
		_, ok := NormalizeDigest(bad)
		assert.False(t, ok, bad)
	}
}

func TestDecodeStringWithPrefix(t *testing.T) {
	b, err := DecodeString("0x00ff")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, b)
}
