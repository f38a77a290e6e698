package keys_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/go-hradmin-client/token/keys"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	k1, err := keys.Generate()
	require.NoError(t, err)
	k2, err := keys.Generate()
	require.NoError(t, err)

	require.NotEqual(t, k1.Hex(), k2.Hex())
	require.Len(t, k1.Bytes(), keys.Size)
	require.Len(t, k1.Hex(), 2*keys.Size)
}

func TestParseHex(t *testing.T) {
	k, err := keys.Generate()
	require.NoError(t, err)

	parsed, err := keys.ParseHex(" " + k.Hex() + "\n")
	require.NoError(t, err)
	require.Equal(t, k, parsed)

	_, err = keys.ParseHex("zz")
	require.ErrorContains(t, err, "invalid hex key")

	_, err = keys.ParseHex(strings.Repeat("ab", 16))
	require.ErrorContains(t, err, "want 32 bytes, got 16")
}
