// Package crypto implements the block cipher and key derivation the backup
// format is built on: AES-256-CBC with a per-block random IV, and a legacy
// double-MD5 passphrase KDF kept for wire compatibility with existing
// archives (see DESIGN.md's Open Question decisions).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/coldvault/coldvault/internal/constants"
	"github.com/coldvault/coldvault/internal/engerr"
)

// Cipher encrypts and decrypts EncryptedBlockObjects with a single AES-256
// key derived once per backup tree.
type Cipher struct {
	key []byte
}

// NewCipher derives the AES-256 key for passphrase and returns a Cipher
// bound to it.
func NewCipher(passphrase string) *Cipher {
	return &Cipher{key: DeriveKey(passphrase)}
}

// Encrypt produces an EncryptedBlockObject: a random 16-byte IV followed by
// the AES-256-CBC ciphertext of PKCS7-padded plaintext. plaintext is
// expected to already be the compressed payload (C2 runs before C1).
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", engerr.ErrCrypto, err)
	}

	iv := make([]byte, constants.IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generate iv: %v", engerr.ErrCrypto, err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt parses an EncryptedBlockObject and returns the PKCS7-unpadded
// plaintext (still compressed — the caller runs C2's decompress next).
// Returns an error wrapping engerr.ErrCrypto on a pad failure, which the
// caller should treat as a KeyMismatch signal if it happens on every block.
func (c *Cipher) Decrypt(object []byte) ([]byte, error) {
	if len(object) < constants.IVSize {
		return nil, fmt.Errorf("%w: object shorter than iv", engerr.ErrFormat)
	}
	iv := object[:constants.IVSize]
	ciphertext := object[constants.IVSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", engerr.ErrFormat)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", engerr.ErrCrypto, err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engerr.ErrCrypto, err)
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("invalid padding: empty data")
	}
	padding := int(data[n-1])
	if padding == 0 || padding > n || padding > aes.BlockSize {
		return nil, fmt.Errorf("invalid padding size: %d", padding)
	}
	for i := 0; i < padding; i++ {
		if data[n-1-i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding byte at position %d", i)
		}
	}
	return data[:n-padding], nil
}

// PasswordHash returns the hex-encoded SHA-1 of passphrase, stored once in
// the index and compared against on every subsequent open (§4.1).
func PasswordHash(passphrase string) string {
	sum := sha1.Sum([]byte(passphrase))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword reports whether passphrase's hash matches storedHash,
// wrapping engerr.ErrKeyMismatch on failure.
func VerifyPassword(passphrase, storedHash string) error {
	if PasswordHash(passphrase) != storedHash {
		return engerr.ErrKeyMismatch
	}
	return nil
}
