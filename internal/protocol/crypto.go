package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// CipherName is the negotiated payload encryption scheme, announced to the
// client in the connection event.
const CipherName = "xchacha20-poly1305"

// Cipher encrypts and decrypts message/response payloads for one session.
// The key is derived once at session creation; every Seal call draws a
// fresh random nonce, which is prepended to the ciphertext on the wire.
// Safe for concurrent use.
type Cipher struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewCipher derives a per-session Cipher from the engine's master key and
// the session id. HKDF-SHA256 binds the session key to the session identity
// so a leaked key compromises at most one conversation.
func NewCipher(masterKey []byte, sessionID string) (*Cipher, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("protocol: master key must not be empty")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("protocol: session id must not be empty")
	}

	kdf := hkdf.New(sha256.New, masterKey, []byte(sessionID), []byte("clinvia-session-payload"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("protocol: derive session key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("protocol: init aead: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("protocol: generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decodes base64(nonce || ciphertext) and returns the plaintext.
// Tampered or foreign ciphertext yields ErrDecrypt.
func (c *Cipher) Open(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
