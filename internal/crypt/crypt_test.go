package crypt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T, secret string) *Encryptor {
	t.Helper()

	e, err := New([]byte(secret))
	require.NoError(t, err)
	return e
}

func TestRoundTrip(t *testing.T) {
	e := newTestEncryptor(t, "s3cret")

	payloads := []string{
		"",
		"a",
		`{"id":"123_456","message":"hello"}`,
		"unicode: héllo wörld ✓",
		string(make([]byte, 4096)),
	}

	for _, p := range payloads {
		blob, err := e.Encrypt([]byte(p))
		require.NoError(t, err)

		got, err := e.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, p, string(got))
		assert.Equal(t, p, string(e.Open(blob)))
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	e := newTestEncryptor(t, "s3cret")

	a, err := e.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := e.Encrypt([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_LegacyPlaintext(t *testing.T) {
	e := newTestEncryptor(t, "s3cret")

	tests := []struct {
		name string
		blob string
	}{
		{name: "raw json", blob: `{"id":"123_456","full_picture":"https://example.com/a.jpg"}`},
		{name: "empty", blob: ""},
		{name: "valid base64 but not ours", blob: base64.StdEncoding.EncodeToString([]byte("this is some long enough plaintext value"))},
		{name: "short base64", blob: "YWJj"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Decrypt(tt.blob)
			assert.ErrorIs(t, err, ErrNotCiphertext)
			assert.Equal(t, tt.blob, string(e.Open(tt.blob)))
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	a := newTestEncryptor(t, "key-a")
	b := newTestEncryptor(t, "key-b")

	blob, err := a.Encrypt([]byte(`{"id":"1"}`))
	require.NoError(t, err)

	_, err = b.Decrypt(blob)
	assert.ErrorIs(t, err, ErrNotCiphertext)
	assert.Equal(t, blob, string(b.Open(blob)))
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
