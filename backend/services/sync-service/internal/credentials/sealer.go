package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealPrefix = "v1:"

// Sealer defines the at-rest encryption contract for vendor tokens.
type Sealer interface {
	Seal(userID, provider, plaintext string) (string, error)
	Open(userID, provider, sealed string) (string, error)
}

// AEADSealer encrypts tokens with XChaCha20-Poly1305. The (user, provider) pair is
// bound as associated data so a sealed token cannot be moved to another row.
type AEADSealer struct {
	key []byte
}

// NewAEADSealer derives the data key from secret with HKDF-SHA256.
func NewAEADSealer(secret string) (*AEADSealer, error) {
	if secret == "" {
		return nil, errors.New("credentials: empty sealing secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("wattmint vendor tokens"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &AEADSealer{key: key}, nil
}

func (s *AEADSealer) Seal(userID, provider, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), aad(userID, provider))
	return sealPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *AEADSealer) Open(userID, provider, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if len(sealed) < len(sealPrefix) || sealed[:len(sealPrefix)] != sealPrefix {
		return "", errors.New("credentials: unknown token envelope")
	}
	blob, err := base64.RawStdEncoding.DecodeString(sealed[len(sealPrefix):])
	if err != nil {
		return "", err
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return "", errors.New("credentials: sealed token too short")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:], aad(userID, provider))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func aad(userID, provider string) []byte {
	out := make([]byte, 0, len(userID)+len(provider)+1)
	out = append(out, userID...)
	out = append(out, 0)
	return append(out, provider...)
}

// PlainSealer stores tokens unchanged. Used when no sealing secret is configured.
type PlainSealer struct{}

func (PlainSealer) Seal(_, _, plaintext string) (string, error) { return plaintext, nil }
func (PlainSealer) Open(_, _, sealed string) (string, error)    { return sealed, nil }
