package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Key derivation parameters. They match the values the web app used when
// it first stored credentials, so existing ciphertexts keep decrypting.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	scryptSalt   = "salt"
)

// CredentialCipher encrypts tax authority credentials at rest.
// Ciphertexts are "<iv hex>:<ciphertext hex>" using AES-256-CTR.
type CredentialCipher struct {
	key []byte
}

// NewCredentialCipher derives the AES key from the service secret
func NewCredentialCipher(secret string) (*CredentialCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	key, err := scrypt.Key([]byte(secret), []byte(scryptSalt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return &CredentialCipher{key: key}, nil
}

// Encrypt returns the encoded ciphertext for plaintext
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(out, []byte(plaintext))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt
func (c *CredentialCipher) Decrypt(encoded string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return "", fmt.Errorf("malformed ciphertext")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("malformed ciphertext iv")
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext body")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(out, ct)
	return string(out), nil
}
