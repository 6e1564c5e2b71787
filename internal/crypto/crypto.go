package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Key material sizes for AES-256-CBC.
const (
	IVLength  = 16
	KeyLength = 32

	// LicenseLength is the size of the unencrypted license material. PKCS#7
	// padding expands it to exactly one AES block at rest.
	LicenseLength = 8

	// SignBlockLength is the size of the buffer fed to the signing cipher:
	// a SHA-1 digest (20 bytes) plus 12 zero bytes.
	SignBlockLength = 32
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// EncryptSignBlock encrypts a 32-byte digest buffer with AES-256-CBC and
// returns the raw 32-byte ciphertext. No padding block is appended: the
// signature scheme uses exactly two cipher blocks and nothing more.
func EncryptSignBlock(block32, iv, key []byte) ([]byte, error) {
	if len(block32) != SignBlockLength {
		return nil, fmt.Errorf("sign block must be %d bytes, got %d", SignBlockLength, len(block32))
	}
	c, err := newCBCEncrypter(iv, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, SignBlockLength)
	c.CryptBlocks(out, block32)
	return out, nil
}

// EncryptLicense encrypts license material with AES-256-CBC and PKCS#7
// padding. 8 plaintext bytes produce a single 16-byte block.
func EncryptLicense(plaintext, iv, key []byte) ([]byte, error) {
	c, err := newCBCEncrypter(iv, key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	c.CryptBlocks(out, padded)
	return out, nil
}

// DecryptLicense reverses EncryptLicense.
func DecryptLicense(ciphertext, iv, key []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func newCBCEncrypter(iv, key []byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	return cipher.NewCBCEncrypter(block, iv), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
