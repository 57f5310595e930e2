// Package envelope implements the hybrid AES+RSA file encryption protocol.
//
// The wire format is fixed and must stay byte-compatible with previously
// created artifacts: blob = iv (16 bytes) || AES-256-CBC(PKCS7(plaintext)),
// with the 32-byte AES key wrapped by RSA-OAEP (MGF1, SHA-256, empty label).
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
	// BlockSize is the PKCS#7 block size in bytes.
	BlockSize = aes.BlockSize
)

var (
	// ErrKeyUnwrapFailed is deliberately opaque: it never says which part
	// of OAEP failed, to avoid padding-oracle signals.
	ErrKeyUnwrapFailed = errors.New("failed to unwrap file key")
	ErrCipherIntegrity = errors.New("ciphertext is malformed or corrupted")
	ErrPadding         = errors.New("invalid padding")
)

// Encrypt encrypts plaintext under a fresh per-call AES key and IV, and wraps
// the key with pub. It returns iv||ciphertext and the wrapped key. The
// plaintext AES key never leaves this function.
func Encrypt(plaintext []byte, pub *rsa.PublicKey) (blob, wrappedKey []byte, err error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("failed to generate file key: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext)
	blob = make([]byte, IVSize+len(padded))
	copy(blob, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(blob[IVSize:], padded)

	wrappedKey, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap file key: %w", err)
	}

	return blob, wrappedKey, nil
}

// Decrypt is the inverse of Encrypt. It is a pure function of its inputs:
// resolving which artifact and key to use is the caller's job.
func Decrypt(blob, wrappedKey []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrappedKey, nil)
	if err != nil {
		return nil, ErrKeyUnwrapFailed
	}
	if len(key) != KeySize {
		return nil, ErrKeyUnwrapFailed
	}

	if len(blob) < IVSize+BlockSize || (len(blob)-IVSize)%BlockSize != 0 {
		return nil, ErrCipherIntegrity
	}
	iv, ciphertext := blob[:IVSize], blob[IVSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrCipherIntegrity
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-n], nil
}
