package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"caresms/internal/constants"
	"caresms/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

// encryptor provides at-rest AES-GCM encryption for PHI columns in the
// ledger (phone numbers and message bodies). Enabled via
// CARESMS_ENABLE_ENCRYPTION; the key derives from CARESMS_ENCRYPTION_SECRET.
type encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor() (*encryptor, error) {
	if !encryptionEnabled() {
		return &encryptor{}, nil
	}

	secret := os.Getenv("CARESMS_ENCRYPTION_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("CARESMS_ENCRYPTION_SECRET is required when encryption is enabled")
	}
	if len(secret) < constants.DefaultEncryptionSecretChars {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.DefaultEncryptionSecretChars)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (e *encryptor) decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < models.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, data[:models.NonceSize], data[models.NonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func encryptionEnabled() bool {
	return os.Getenv("CARESMS_ENABLE_ENCRYPTION") == "true"
}
