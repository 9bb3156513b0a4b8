package seal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealOpen(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	require.True(t, s.Enabled())

	sealed, err := s.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "JBSWY3DPEHPK3PXP")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestOpen_WrongKey(t *testing.T) {
	a, err := New(testKey)
	require.NoError(t, err)
	b, err := New(strings.Repeat("ff", 32))
	require.NoError(t, err)

	sealed, err := a.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOpen_Garbage(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	_, err = s.Open("not-base64")
	assert.ErrorIs(t, err, ErrOpen)
	_, err = s.Open("AAAA")
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNew_PassThrough(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	v, err := s.Seal("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestNew_BadKey(t *testing.T) {
	_, err := New("zz")
	assert.Error(t, err)
	_, err = New("0011")
	assert.ErrorContains(t, err, "32 bytes")
}
