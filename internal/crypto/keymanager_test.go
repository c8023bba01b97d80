package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "incorrect")
	assert.Error(t, err)
}

func TestEncryptedEnvelopeRecordsKDFParameters(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	var env keyEnvelope
	require.NoError(t, json.Unmarshal(blob, &env))
	assert.Equal(t, envelopeVersion, env.Version)
	assert.Equal(t, envelopeKDF, env.KDF)
	assert.Equal(t, defaultIterations, env.Iterations)
	assert.Len(t, env.Salt, saltLen)
}

func TestDecryptRejectsDowngradedIterations(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	var env keyEnvelope
	require.NoError(t, json.Unmarshal(blob, &env))
	env.Iterations = 1000
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "hunter2")
	assert.Error(t, err)
}

func TestEncryptRejectsBadKeys(t *testing.T) {
	_, err := EncryptKey("not-hex", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err, "short keys are rejected")

	_, err = EncryptKey(testKeyHex, "")
	assert.Error(t, err, "empty password is rejected")
}

func TestLoadKeyPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "operator.key.json")
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	// Raw key wins over the encrypted file.
	got, err := LoadKey(KeyConfig{
		RawPrivateKey:    "0x" + testKeyHex,
		EncryptedKeyPath: path,
		KeyPassword:      "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Encrypted file alone works.
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Nothing configured is an error.
	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 1)
	require.NoError(t, err)
	// Well-known address for this key.
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())

	_, err = NewSigner("zz", 1)
	assert.Error(t, err)
}
