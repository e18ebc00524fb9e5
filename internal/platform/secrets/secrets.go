// Package secrets encrypts tenant database credentials before they are
// written to the central registry. Ciphertexts carry a key-version prefix so
// the encryption key can be rotated without re-encrypting every row first.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Encryptor provides AES-256-GCM encryption for credential strings.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor with the given 32-byte AES-256 key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt encrypts the plaintext and returns a base64-encoded ciphertext with
// the nonce prepended.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decodes the base64 ciphertext, extracts the prepended nonce, and
// decrypts the remainder.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: base64 decode: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("secrets: ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}

const (
	keyVersionPrefix    = "v"
	keyVersionSeparator = ":"
)

// KeyRing supports key rotation with versioned keys. Ciphertexts are
// prefixed "v{version}:" so decryption can pick the key that sealed them.
type KeyRing struct {
	mu         sync.RWMutex
	current    *Encryptor
	currentVer int
	previous   map[int]*Encryptor
}

// NewKeyRing creates a KeyRing with the current key.
func NewKeyRing(currentKey []byte, currentVersion int) (*KeyRing, error) {
	enc, err := NewEncryptor(currentKey)
	if err != nil {
		return nil, fmt.Errorf("keyring: current key: %w", err)
	}
	return &KeyRing{
		current:    enc,
		currentVer: currentVersion,
		previous:   make(map[int]*Encryptor),
	}, nil
}

// AddPreviousKey registers a retired key so older ciphertexts stay readable.
func (r *KeyRing) AddPreviousKey(key []byte, version int) error {
	enc, err := NewEncryptor(key)
	if err != nil {
		return fmt.Errorf("keyring: previous key v%d: %w", version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous[version] = enc
	return nil
}

// Encrypt encrypts with the current key and prepends the version prefix.
func (r *KeyRing) Encrypt(plaintext string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ciphertext, err := r.current.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d%s%s", keyVersionPrefix, r.currentVer, keyVersionSeparator, ciphertext), nil
}

// Decrypt detects the key version and decrypts with the matching key.
func (r *KeyRing) Decrypt(ciphertext string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, data, err := parseVersionedCiphertext(ciphertext)
	if err != nil {
		// No version prefix: legacy data, try the current key.
		return r.current.Decrypt(ciphertext)
	}

	if version == r.currentVer {
		return r.current.Decrypt(data)
	}

	enc, ok := r.previous[version]
	if !ok {
		return "", fmt.Errorf("keyring: no key available for version %d", version)
	}
	return enc.Decrypt(data)
}

// CurrentVersion returns the current key version.
func (r *KeyRing) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVer
}

func parseVersionedCiphertext(s string) (int, string, error) {
	if !strings.HasPrefix(s, keyVersionPrefix) {
		return 0, "", fmt.Errorf("no version prefix")
	}

	idx := strings.Index(s, keyVersionSeparator)
	if idx < 0 {
		return 0, "", fmt.Errorf("no version separator")
	}

	version, err := strconv.Atoi(s[len(keyVersionPrefix):idx])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version: %w", err)
	}
	return version, s[idx+1:], nil
}
