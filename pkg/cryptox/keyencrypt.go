package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// KeyCipher seals signing keys at rest with AES-256-GCM.
// Sealed output is [nonce][ciphertext][tag].
type KeyCipher struct {
	aead      cipher.AEAD
	ephemeral bool
}

// NewKeyCipher derives an AES-256 key from arbitrary key material via SHA-256.
func NewKeyCipher(material []byte) (*KeyCipher, error) {
	if len(material) == 0 {
		return nil, errors.New("cryptox: empty master key material")
	}
	sum := sha256.Sum256(material)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &KeyCipher{aead: aead}, nil
}

// LoadKeyCipher reads master key material from path when set, otherwise uses
// envValue. With neither, a random key is generated and Ephemeral reports true:
// keys sealed with it do not survive a restart.
func LoadKeyCipher(path, envValue string) (*KeyCipher, error) {
	var material []byte
	ephemeral := false
	switch {
	case path != "":
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		material = data
	case envValue != "":
		material = []byte(envValue)
	default:
		material = make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
		ephemeral = true
	}

	kc, err := NewKeyCipher(material)
	if err != nil {
		return nil, err
	}
	kc.ephemeral = ephemeral
	return kc, nil
}

// Ephemeral reports whether the cipher was created from a throwaway key.
func (c *KeyCipher) Ephemeral() bool { return c.ephemeral }

// Seal encrypts plaintext under a fresh random nonce.
func (c *KeyCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal and verifies its tag.
func (c *KeyCipher) Open(sealed []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
