package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize         = 32
	pbkdf2Iters     = 100_000
	derivationSalt  = "clinisync-pii-v1"
	envKey          = "CLINISYNC_PII_KEY"
	envPassphrase   = "CLINISYNC_PII_PASSPHRASE"
	fallbackPhrase  = "default-pii-passphrase-change-in-production"
)

// PIIEncryptor handles encryption at rest for patient identifying fields
// (dni, phone, email). Ciphertexts are hex-encoded AES-256-GCM with the
// nonce prepended, so a column value is self-contained.
type PIIEncryptor struct {
	key []byte
}

// NewPIIEncryptor builds the encryptor from CLINISYNC_PII_KEY (32 bytes hex)
// or, failing that, derives a key from CLINISYNC_PII_PASSPHRASE with PBKDF2.
func NewPIIEncryptor() (*PIIEncryptor, error) {
	keyHex := os.Getenv(envKey)
	var key []byte

	if keyHex != "" {
		var err error
		key, err = hex.DecodeString(keyHex)
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("invalid PII key in environment (must be 32 bytes hex)")
		}
	} else {
		passphrase := os.Getenv(envPassphrase)
		if passphrase == "" {
			passphrase = fallbackPhrase
		}
		key = pbkdf2.Key([]byte(passphrase), []byte(derivationSalt), pbkdf2Iters, keySize, sha256.New)
	}

	return &PIIEncryptor{key: key}, nil
}

// NewPIIEncryptorWithKey is used by tests and the worker to share a key
// without going through the environment.
func NewPIIEncryptorWithKey(key []byte) (*PIIEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("PII key must be %d bytes", keySize)
	}
	return &PIIEncryptor{key: key}, nil
}

// Encrypt encrypts a field value using AES-256-GCM
func (e *PIIEncryptor) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a value produced by Encrypt
func (e *PIIEncryptor) Decrypt(ciphertextHex string) ([]byte, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
