package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test key generated with: openssl rand -base64 32
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func TestNewCredentialEncryptor(t *testing.T) {
	t.Run("base64 key", func(t *testing.T) {
		enc, err := NewCredentialEncryptor(testKey)
		require.NoError(t, err)
		assert.NotNil(t, enc)
	})

	t.Run("passphrase key", func(t *testing.T) {
		enc, err := NewCredentialEncryptor("any old passphrase")
		require.NoError(t, err)
		assert.NotNil(t, enc)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		_, err := NewCredentialEncryptor("")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	plaintext := `{"host":"db","password":"s3cret"}`
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.NotContains(t, ciphertext, "s3cret")

	got, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptEmptyPassesThrough(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	ct, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ct)

	pt, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", pt)
}

func TestDecryptWrongKey(t *testing.T) {
	enc1, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)
	enc2, err := NewCredentialEncryptor("a different key entirely")
	require.NoError(t, err)

	ct, err := enc1.Encrypt("secret data")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ct)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestDecryptGarbage(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt("c2hvcnQ=") // valid base64, too short for nonce+tag
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestConfigRoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	config := map[string]any{
		"host":     "db.internal",
		"port":     float64(5432),
		"user":     "app",
		"password": "s3cret",
		"database": "orders",
	}

	ct, err := enc.EncryptConfig(config)
	require.NoError(t, err)
	assert.NotContains(t, ct, "s3cret")

	got, err := enc.DecryptConfig(ct)
	require.NoError(t, err)
	assert.Equal(t, config, got)
}

func TestDecryptConfigEmpty(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	got, err := enc.DecryptConfig("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
