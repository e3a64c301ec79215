package tokens

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec([]byte("test-access-secret"), []byte("test-refresh-secret"))
	require.NoError(t, err)
	return codec
}

func TestNewCodec_RejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(nil, []byte("refresh"))
	require.Error(t, err)

	_, err = NewCodec([]byte("access"), nil)
	require.Error(t, err)
}

func TestCodec_AccessRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	userID := uuid.NewString()
	area := uuid.NewString()

	token, exp, err := codec.EncodeAccess(userID, "area_lead", &area, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 2*time.Second)

	claims, err := codec.DecodeAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)
	assert.Equal(t, "area_lead", claims.Role)
	require.NotNil(t, claims.AreaID)
	assert.Equal(t, area, *claims.AreaID)
	assert.Equal(t, TypeAccess, claims.TokenType)
}

func TestCodec_RefreshRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	userID := uuid.NewString()

	token, _, err := codec.EncodeRefresh(userID, 7*24*time.Hour)
	require.NoError(t, err)

	claims, err := codec.DecodeRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)
	assert.Equal(t, TypeRefresh, claims.TokenType)
	assert.NotEmpty(t, claims.ID)
}

func TestCodec_ExpiredTokenIsInvalid(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	token, _, err := codec.EncodeAccess(uuid.NewString(), "manager", nil, -time.Minute)
	require.NoError(t, err)

	_, err = codec.DecodeAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCodec_RejectsWrongKind(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	refresh, _, err := codec.EncodeRefresh(uuid.NewString(), time.Hour)
	require.NoError(t, err)
	_, err = codec.DecodeAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	access, _, err := codec.EncodeAccess(uuid.NewString(), "admin", nil, time.Hour)
	require.NoError(t, err)
	_, err = codec.DecodeRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCodec_RejectsForeignSignature(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	other, err := NewCodec([]byte("other-access"), []byte("other-refresh"))
	require.NoError(t, err)

	token, _, err := other.EncodeAccess(uuid.NewString(), "admin", nil, time.Hour)
	require.NoError(t, err)

	_, err = codec.DecodeAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := codec.DecodeAccess(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
