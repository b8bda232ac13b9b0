// Package crypto provides AES-256-GCM encryption for credential
// sensitive configuration at rest. Engines only ever see plaintext maps;
// the storage layer passes secrets through an Encryptor on save and load.
//
// Each encryption uses a fresh random nonce, so encrypting the same
// plaintext twice produces different ciphertexts. The GCM tag gives
// integrity protection: a tampered ciphertext fails to decrypt.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"credhub/internal/common/errors"
)

// Encryptor handles encryption and decryption of credential secrets
// using AES-256-GCM. Safe for concurrent use.
type Encryptor struct {
	key []byte // 32-byte AES-256 key derived via PBKDF2
}

// NewEncryptor creates an Encryptor from the given key material.
//
// The key is run through PBKDF2 so any non-empty passphrase yields a
// proper 32-byte AES-256 key. The key should come from deployment
// configuration, never from source code.
func NewEncryptor(key string) (*Encryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	// Static salt keeps derivation deterministic across restarts
	salt := []byte("credhub-secrets-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &Encryptor{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext string and returns base64(nonce || ciphertext).
// Empty input round-trips to empty output without touching the cipher.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Wrong keys and tampered ciphertexts fail
// the GCM authentication check and return an error.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// EncryptMap encrypts a sensitive-configuration map as a single blob.
// A nil or empty map encrypts to the empty string.
func (e *Encryptor) EncryptMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}

	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return "", errors.InternalError("failed to marshal sensitive config", err)
	}

	return e.Encrypt(string(jsonBytes))
}

// DecryptMap reverses EncryptMap
func (e *Encryptor) DecryptMap(ciphertext string) (map[string]string, error) {
	if ciphertext == "" {
		return map[string]string{}, nil
	}

	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(plaintext), &m); err != nil {
		return nil, errors.InternalError("failed to unmarshal sensitive config", err)
	}

	return m, nil
}
