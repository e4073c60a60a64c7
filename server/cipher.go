// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	cipherVersion = 1
	saltSize      = 16
	nonceSize     = 12
	keySize       = 32 // AES-256
	secretSize    = 32
)

var (
	ErrCipherVersion = errors.New("encrypted data has an unsupported cipher version")
	ErrCipherSecret  = errors.New("cipher secret is too short")

	cipherEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)
)

// AccountCipher encrypts nRF Cloud API keys at rest.
// The stream layout is: version | salt | nonce | sealed data, base32 encoded.
// The version byte is authenticated as additional data.
type AccountCipher struct {
	secret []byte
	salt   [saltSize]byte
	gcm    cipher.AEAD

	mu   sync.Mutex
	gcms map[[saltSize]byte]cipher.AEAD // keys derived for foreign salts
}

// GenerateCipherSecret returns a random secret suitable for NewCipher.
func GenerateCipherSecret() (string, error) {
	buf := make([]byte, secretSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate cipher secret: %w", err)
	}
	return cipherEncoding.EncodeToString(buf), nil
}

func NewCipher(secret string) (*AccountCipher, error) {
	if len(secret) < 16 {
		return nil, ErrCipherSecret
	}
	c := &AccountCipher{secret: []byte(secret), gcms: make(map[[saltSize]byte]cipher.AEAD)}
	if _, err := io.ReadFull(rand.Reader, c.salt[:]); err != nil {
		return nil, fmt.Errorf("failed to generate cipher salt: %w", err)
	}
	var err error
	if c.gcm, err = c.newAEAD(c.salt); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AccountCipher) Encrypt(data []byte) ([]byte, error) {
	header := make([]byte, 1+saltSize+nonceSize, 1+saltSize+nonceSize+len(data)+c.gcm.Overhead())
	header[0] = cipherVersion
	copy(header[1:], c.salt[:])
	nonce := header[1+saltSize:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate cipher nonce: %w", err)
	}
	out := c.gcm.Seal(header, nonce, data, header[:1])
	wrap := make([]byte, cipherEncoding.EncodedLen(len(out)))
	cipherEncoding.Encode(wrap, out)
	return wrap, nil
}

func (c *AccountCipher) Decrypt(data []byte) ([]byte, error) {
	in := make([]byte, cipherEncoding.DecodedLen(len(data)))
	n, err := cipherEncoding.Decode(in, data)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher data: %w", err)
	}
	in = in[:n]
	if len(in) < 1+saltSize+nonceSize {
		return nil, fmt.Errorf("invalid cipher data: insufficient length: %d", len(in))
	}
	if in[0] != cipherVersion {
		return nil, fmt.Errorf("%w: %d", ErrCipherVersion, in[0])
	}

	var salt [saltSize]byte
	copy(salt[:], in[1:])
	gcm, err := c.aeadFor(salt)
	if err != nil {
		return nil, err
	}
	nonce := in[1+saltSize : 1+saltSize+nonceSize]
	res, err := gcm.Open(nil, nonce, in[1+saltSize+nonceSize:], in[:1])
	if err != nil {
		return nil, fmt.Errorf("invalid cipher data: failed to decrypt: %w", err)
	}
	return res, nil
}

func (c *AccountCipher) aeadFor(salt [saltSize]byte) (cipher.AEAD, error) {
	if salt == c.salt {
		return c.gcm, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gcm, ok := c.gcms[salt]; ok {
		return gcm, nil
	}
	gcm, err := c.newAEAD(salt)
	if err == nil {
		c.gcms[salt] = gcm
	}
	return gcm, err
}

func (c *AccountCipher) newAEAD(salt [saltSize]byte) (cipher.AEAD, error) {
	// N=2^15, r=8, p=1: 32MiB of memory per derivation.
	key, err := scrypt.Key(c.secret, salt[:], 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cipher key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher block: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
