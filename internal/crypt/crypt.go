// Package crypt encrypts post payloads at rest.
//
// Payloads are sealed with AES-256-GCM under a key derived from the process
// secret. Rows written before encryption existed hold the raw JSON, so reads
// go through [Encryptor.Open], which falls back to the stored bytes whenever
// the blob is not ciphertext.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrNotCiphertext is returned by Decrypt for anything it did not produce
// with the same key.
var ErrNotCiphertext = errors.New("blob is not ciphertext")

const (
	keySize  = 32
	hkdfInfo = "postsync payload v1"
)

// Encryptor seals and opens payload blobs. Safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// New derives the payload key from secret.
func New(secret []byte) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption secret is empty")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("error deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("error creating gcm: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt returns base64(nonce || sealed plaintext).
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("error generating nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Blobs that are not base64, are too short to hold a
// nonce, or fail authentication all yield [ErrNotCiphertext].
func (e *Encryptor) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrNotCiphertext
	}

	ns := e.aead.NonceSize()
	if len(raw) < ns+e.aead.Overhead() {
		return nil, ErrNotCiphertext
	}

	plaintext, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrNotCiphertext
	}
	if plaintext == nil {
		plaintext = []byte{}
	}

	return plaintext, nil
}

// Open decrypts blob, or returns it unchanged when it is legacy plaintext.
func (e *Encryptor) Open(blob string) []byte {
	plaintext, err := e.Decrypt(blob)
	if err != nil {
		return []byte(blob)
	}

	return plaintext
}
