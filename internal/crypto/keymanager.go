// Package crypto provides operator key management and transaction signing
// for the loopbot service.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envelopeVersion = 1
	envelopeKDF     = "pbkdf2-sha256"

	// OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	defaultIterations = 480_000
	// minIterations is the floor accepted when reading a key file, so a
	// tampered envelope cannot downgrade the derivation cost.
	minIterations = 100_000

	saltLen   = 16
	aesKeyLen = 32 // AES-256
)

// keyEnvelope is the on-disk format for an encrypted operator key. The KDF
// parameters travel with the ciphertext so the cost can be raised later
// without breaking existing files. Byte fields marshal as standard base64.
type keyEnvelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// aead derives the AES-256 key from the password and the envelope's KDF
// parameters and returns the GCM cipher for it.
func (env *keyEnvelope) aead(password string) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), env.Salt, env.Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// KeyConfig carries the information LoadKey needs to resolve the operator's
// private key. Populate the fields from the [operator] config section.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x
	// prefix). If non-empty, LoadKey returns it directly.
	RawPrivateKey string

	// EncryptedKeyPath is the path to a JSON file produced by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword is the password used to decrypt EncryptedKeyPath.
	KeyPassword string
}

// decodeKeyHex strips an optional 0x prefix and enforces the 32-byte secp256k1
// key length.
func decodeKeyHex(privateKeyHex string) ([]byte, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}
	return keyBytes, nil
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: reading randomness: %w", err)
	}
	return b, nil
}

// EncryptKey encrypts a hex-encoded private key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption. It returns the JSON blob suitable for writing to disk.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	salt, err := randBytes(saltLen)
	if err != nil {
		return nil, err
	}

	env := keyEnvelope{
		Version:    envelopeVersion,
		KDF:        envelopeKDF,
		Iterations: defaultIterations,
		Salt:       salt,
	}
	gcm, err := env.aead(password)
	if err != nil {
		return nil, err
	}
	if env.Nonce, err = randBytes(gcm.NonceSize()); err != nil {
		return nil, err
	}
	env.Ciphertext = gcm.Seal(nil, env.Nonce, keyBytes, nil)

	return json.MarshalIndent(env, "", "  ")
}

// DecryptKey decrypts a JSON blob produced by EncryptKey, returning the
// hex-encoded private key (without 0x prefix).
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var env keyEnvelope
	if err := json.Unmarshal(encryptedJSON, &env); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if env.Version != envelopeVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", env.Version)
	}
	if env.KDF != envelopeKDF {
		return "", fmt.Errorf("crypto: unsupported kdf %q", env.KDF)
	}
	if env.Iterations < minIterations {
		return "", fmt.Errorf("crypto: refusing key file with %d kdf iterations", env.Iterations)
	}

	gcm, err := env.aead(password)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the operator's private key from the provided
// configuration.
//
// Resolution order:
//  1. If RawPrivateKey is set, return it (stripping 0x prefix).
//  2. If EncryptedKeyPath is set, read the file and decrypt with KeyPassword.
//  3. Otherwise, return an error.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: RawPrivateKey is not valid hex: %w", err)
		}
		return k, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}
