package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrEncryption     = errors.New("encryption failed")
	ErrDecryption     = errors.New("decryption failed")
)

// Encryptor provides a generic interface for encryption/decryption
type Encryptor interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// NewXChaChaEncryptor creates an XChaCha20-Poly1305 encryptor from a 32-byte key.
func NewXChaChaEncryptor(key []byte) (Encryptor, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	return &xchachaEncryptor{aead: aead}, nil
}

// NewEncryptorFromPassphrase derives the key from an arbitrary secret with
// blake2b-256.
func NewEncryptorFromPassphrase(passphrase string) (Encryptor, error) {
	if passphrase == "" {
		return nil, ErrInvalidKeySize
	}
	key := blake2b.Sum256([]byte(passphrase))
	return NewXChaChaEncryptor(key[:])
}

type xchachaEncryptor struct {
	aead interface {
		NonceSize() int
		Overhead() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func (x *xchachaEncryptor) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, x.aead.NonceSize(), x.aead.NonceSize()+len(data)+x.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ErrEncryption
	}

	return x.aead.Seal(nonce, nonce, data, nil), nil
}

func (x *xchachaEncryptor) Decrypt(data []byte) ([]byte, error) {
	nonceSize := x.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrDecryption
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := x.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return plaintext, nil
}

// EncryptString encrypts s and returns it base64 encoded for text columns.
func EncryptString(e Encryptor, s string) (string, error) {
	sealed, err := e.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(e Encryptor, s string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", ErrDecryption
	}
	plain, err := e.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
