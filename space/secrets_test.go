package space

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/errors"
)

func TestSecretsRoundTrip(t *testing.T) {
	secrets := map[string]string{
		"openai":    "sk-aaa",
		"anthropic": "sk-bbb",
	}

	blob, err := EncryptSecrets("space-id", secrets)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := DecryptSecrets("space-id", blob)
	require.NoError(t, err)
	assert.Equal(t, secrets, got)
}

func TestSecretsEmptyMap(t *testing.T) {
	blob, err := EncryptSecrets("space-id", map[string]string{})
	require.NoError(t, err)

	got, err := DecryptSecrets("space-id", blob)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestSecretsFreshIVPerSeal(t *testing.T) {
	secrets := map[string]string{"k": "v"}
	a, err := EncryptSecrets("space-id", secrets)
	require.NoError(t, err)
	b, err := EncryptSecrets("space-id", secrets)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretsWrongSpaceID(t *testing.T) {
	blob, err := EncryptSecrets("space-a", map[string]string{"k": "v"})
	require.NoError(t, err)

	_, err = DecryptSecrets("space-b", blob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecretDecrypt))
}

func TestSecretsTamperedBlob(t *testing.T) {
	blob, err := EncryptSecrets("space-id", map[string]string{"k": "v"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = DecryptSecrets("space-id", tampered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecretDecrypt))
}

func TestSecretsMalformedBlob(t *testing.T) {
	for _, blob := range []string{"", "not-base64!!!", "QQ=="} {
		_, err := DecryptSecrets("space-id", blob)
		require.Error(t, err, "blob %q", blob)
		assert.True(t, errors.Is(err, ErrSecretDecrypt))
	}
}
