package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor seals short secrets (bearer tokens) before they leave the process
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor with the given key
// Key must be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256
func NewEncryptor(key []byte) (*Encryptor, error) {
	keyLen := len(key)
	if keyLen != 16 && keyLen != 24 && keyLen != 32 {
		return nil, fmt.Errorf("invalid key length: %d (must be 16, 24, or 32)", keyLen)
	}
	return &Encryptor{key: key}, nil
}

// NewEncryptorFromSecret derives an AES-256 key from an arbitrary secret
func NewEncryptorFromSecret(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret is empty")
	}
	sum := sha256.Sum256([]byte(secret))
	return NewEncryptor(sum[:])
}

// Seal encrypts plaintext with AES-GCM. label is authenticated but not
// stored; Open must be given the same label.
func (e *Encryptor) Seal(plaintext []byte, label string) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open reverses Seal
func (e *Encryptor) Open(sealed []byte, label string) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// SealString seals plaintext and returns it base64-encoded
func (e *Encryptor) SealString(plaintext, label string) (string, error) {
	sealed, err := e.Seal([]byte(plaintext), label)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString decodes and opens a value produced by SealString
func (e *Encryptor) OpenString(encoded, label string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	plaintext, err := e.Open(sealed, label)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
