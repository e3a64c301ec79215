package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	h, err := HashPassword("Sup3r!Secret")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3r!Secret", h)

	assert.True(t, CheckPassword(h, "Sup3r!Secret"))
	assert.False(t, CheckPassword(h, "sup3r!secret"))
	assert.False(t, CheckPassword("not-a-bcrypt-hash", "Sup3r!Secret"))
}

func TestSha256Hex_Deterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Sha256Hex("token"), Sha256Hex("token"))
	assert.NotEqual(t, Sha256Hex("token"), Sha256Hex("token2"))
	assert.Len(t, Sha256Hex("token"), 64)
}

func TestHmacHex_KeyedAndComparable(t *testing.T) {
	t.Parallel()

	a := HmacHex([]byte("key-a"), "123456")
	b := HmacHex([]byte("key-b"), "123456")
	assert.NotEqual(t, a, b)

	assert.True(t, EqualHex(a, HmacHex([]byte("key-a"), "123456")))
	assert.False(t, EqualHex(a, HmacHex([]byte("key-a"), "654321")))
	assert.False(t, EqualHex(a, "short"))
}
