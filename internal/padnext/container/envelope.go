package container

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	keySize = 32
	ivSize  = aes.BlockSize
)

// ErrMalformedEnvelope is returned when sealed data cannot be split into
// its parts
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Seal encrypts plain for the holder of pub. The result is laid out as a
// 4-byte big-endian key length, the RSA-OAEP (SHA-256) wrapped AES-256 key,
// a 16-byte IV and the AES-CFB ciphertext.
func Seal(plain []byte, pub *rsa.PublicKey) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}

	out := make([]byte, 4+len(wrapped)+ivSize+len(plain))
	binary.BigEndian.PutUint32(out, uint32(len(wrapped)))
	copy(out[4:], wrapped)
	iv := out[4+len(wrapped) : 4+len(wrapped)+ivSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	//nolint:staticcheck // CFB is what receiving systems expect
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out[4+len(wrapped)+ivSize:], plain)
	return out, nil
}

// Open reverses Seal
func Open(sealed []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if len(sealed) < 4 {
		return nil, ErrMalformedEnvelope
	}
	n := int(binary.BigEndian.Uint32(sealed))
	if n <= 0 || len(sealed) < 4+n+ivSize {
		return nil, fmt.Errorf("%w: key length %d", ErrMalformedEnvelope, n)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, sealed[4:4+n], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := sealed[4+n : 4+n+ivSize]
	body := sealed[4+n+ivSize:]
	plain := make([]byte, len(body))
	//nolint:staticcheck // see Seal
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(plain, body)
	return plain, nil
}
