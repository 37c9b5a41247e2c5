// Package security provides session encryption, audit logging, and security controls.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionKeySize is the size of the AES-256 key in bytes.
	EncryptionKeySize = 32
	// SaltSize is the size of the salt for key derivation.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

// SealedEnvelope holds one encrypted payload at rest.
type SealedEnvelope struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Version    int    `json:"version"`
}

// Vault seals and opens payloads bound to one file path. The session file
// holding OAuth tokens goes through a Vault so token values never touch
// disk in the clear.
type Vault struct {
	path string
	mu   sync.Mutex
}

// NewVault creates a vault over the given file path.
func NewVault(path string) *Vault {
	return &Vault{path: path}
}

// Path returns the vault's backing file path.
func (v *Vault) Path() string {
	return v.path
}

// Seal encrypts plaintext with a key derived from the passphrase and
// writes the envelope to the vault path with restricted permissions.
func (v *Vault) Seal(passphrase string, plaintext []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	key := deriveKey(passphrase, salt)

	nonce, ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	env := &SealedEnvelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Version:    1,
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("creating vault directory: %w", err)
	}

	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("writing sealed payload: %w", err)
	}

	return nil
}

// Open reads the envelope from the vault path and decrypts it with a key
// derived from the passphrase.
func (v *Vault) Open(passphrase string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := os.ReadFile(v.path)
	if err != nil {
		return nil, err
	}

	env := &SealedEnvelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)

	plaintext, err := decrypt(ciphertext, key, nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid passphrase or corrupted payload: %w", err)
	}

	return plaintext, nil
}

// Exists reports whether a sealed payload is present.
func (v *Vault) Exists() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := os.Stat(v.path)
	return err == nil
}

// Destroy overwrites the sealed file with random data and removes it.
func (v *Vault) Destroy() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := os.Stat(v.path); os.IsNotExist(err) {
		return nil
	}
	return SecureDelete(v.path)
}

// deriveKey derives an encryption key from a passphrase using PBKDF2.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

// encrypt encrypts plaintext using AES-256-GCM.
func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plaintext, nil
}

// SecureDelete overwrites a file with random data before deleting.
func SecureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	randomData := make([]byte, info.Size())
	if _, err := rand.Read(randomData); err != nil {
		f.Close()
		return err
	}

	if _, err := f.Write(randomData); err != nil {
		f.Close()
		return err
	}

	f.Close()

	return os.Remove(path)
}
