// Package crypto encrypts sensitive columns (gateway credentials, payment
// method properties) with AES-256-GCM before they reach the database.
//
// Encrypted values are stored as "enc:v1:<base64(nonce+ciphertext)>". Values
// without the prefix are treated as plaintext so that rows written before
// encryption was enabled stay readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const prefix = "enc:v1:"

const hkdfSalt = "billingstack-collector-field-encryption"

// ErrCiphertextTooShort is returned for truncated values.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// FieldEncryptor encrypts and decrypts column values. Safe for concurrent use.
type FieldEncryptor struct {
	gcm cipher.AEAD
}

// DeriveFieldEncryptor derives an AES-256 key for purpose from masterSecret via HKDF.
func DeriveFieldEncryptor(masterSecret []byte, purpose string) (*FieldEncryptor, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("crypto: empty master secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterSecret, []byte(hkdfSalt), []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("crypto: HKDF derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &FieldEncryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext. aad binds the value to its row (usually the row id);
// the same aad must be passed to Decrypt.
func (fe *FieldEncryptor) Encrypt(plaintext, aad string) (string, error) {
	nonce := make([]byte, fe.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	sealed := fe.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(aad))
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Unprefixed values pass through.
func (fe *FieldEncryptor) Decrypt(stored, aad string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid base64: %w", err)
	}
	n := fe.gcm.NonceSize()
	if len(data) < n {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := fe.gcm.Open(nil, data[:n], data[n:], []byte(aad))
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// EncryptJSON marshals v and encrypts the document.
func (fe *FieldEncryptor) EncryptJSON(v any, aad string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal: %w", err)
	}
	return fe.Encrypt(string(raw), aad)
}

// DecryptJSON decrypts stored and unmarshals it into v. Plain JSON is accepted.
func (fe *FieldEncryptor) DecryptJSON(stored, aad string, v any) error {
	plain, err := fe.Decrypt(stored, aad)
	if err != nil {
		return err
	}
	if plain == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		return fmt.Errorf("crypto: unmarshal: %w", err)
	}
	return nil
}

// IsEncrypted returns true if the stored value has the encryption prefix.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, prefix)
}
