/* Copyright 2025 Notevault Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package crypt implements the cryptographic primitives for the notevault
// content encryption: symmetric ciphers for note payloads and RSA key pairs
// for signing and key exchange.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultSymmetricAlgorithm is the algorithm used for newly created keys
	DefaultSymmetricAlgorithm = "AES;GCM;32"
	// CompatSymmetricAlgorithm is a wide-compatibility mode kept for payloads
	// produced by older clients and for the hybrid envelope in Signature.Encrypt
	CompatSymmetricAlgorithm = "AES;CBC;PKCS7;32"

	// DefaultKDFIterations is the PBKDF2 iteration count for password-derived keys
	DefaultKDFIterations = 1000000

	symmetricKeySize = 32
	gcmIVSize        = 12
	cbcIVSize        = 16

	// payloads larger than this are gzipped before encryption
	compressThreshold = 512
)

// compressMarker prefixes a gzipped plaintext so that decrypt can tell
// compressed payloads from plain ones
var compressMarker = []byte{0x00, 0x00, 0x00, 0x01}

// ErrUnsupportedAlgorithm is returned when an algorithm identifier is not recognized
var ErrUnsupportedAlgorithm = errors.New("algorithm not supported")

// Symmetric encrypts and decrypts content with a single shared key. Payloads
// are base64 strings carrying the IV followed by the ciphertext.
type Symmetric struct {
	algorithm string
	key       []byte
}

func validateSymmetricAlgorithm(algorithm string) error {
	if algorithm != DefaultSymmetricAlgorithm && algorithm != CompatSymmetricAlgorithm {
		return errors.Wrap(ErrUnsupportedAlgorithm, algorithm)
	}

	return nil
}

// NewSymmetric creates a Symmetric with a randomly generated key
func NewSymmetric(algorithm string) (*Symmetric, error) {
	if err := validateSymmetricAlgorithm(algorithm); err != nil {
		return nil, err
	}

	key := make([]byte, symmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generating key")
	}

	return &Symmetric{algorithm: algorithm, key: key}, nil
}

// SymmetricFromPassword derives a Symmetric from a password using
// PBKDF2-SHA512 with the given hex-encoded salt and iteration count
func SymmetricFromPassword(algorithm, password, salt string, iterations int) (*Symmetric, error) {
	if err := validateSymmetricAlgorithm(algorithm); err != nil {
		return nil, err
	}

	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return nil, errors.Wrap(err, "decoding salt")
	}

	key := pbkdf2.Key([]byte(password), saltBytes, iterations, symmetricKeySize, sha512.New)

	return &Symmetric{algorithm: algorithm, key: key}, nil
}

// SymmetricFromKey creates a Symmetric from raw key material
func SymmetricFromKey(algorithm string, key []byte) (*Symmetric, error) {
	if err := validateSymmetricAlgorithm(algorithm); err != nil {
		return nil, err
	}
	if len(key) != symmetricKeySize {
		return nil, errors.Errorf("invalid key size %d", len(key))
	}

	k := make([]byte, len(key))
	copy(k, key)

	return &Symmetric{algorithm: algorithm, key: k}, nil
}

// SymmetricFromKeyString creates a Symmetric from a base64-encoded key
func SymmetricFromKeyString(algorithm, key string) (*Symmetric, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, errors.Wrap(err, "decoding key")
	}

	return SymmetricFromKey(algorithm, keyBytes)
}

// Algorithm returns the algorithm identifier
func (c *Symmetric) Algorithm() string {
	return c.algorithm
}

// Key returns a copy of the raw key material
func (c *Symmetric) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)

	return k
}

// KeyString returns the key material encoded as base64
func (c *Symmetric) KeyString() string {
	return base64.StdEncoding.EncodeToString(c.key)
}

// Encrypt encrypts a string. Large payloads are compressed first.
func (c *Symmetric) Encrypt(text string) (string, error) {
	return c.EncryptBytes([]byte(text), true)
}

// EncryptBytes encrypts a byte payload into a base64 string of IV followed
// by ciphertext. With allowCompress set, payloads over the compression
// threshold are gzipped and tagged with a marker before encryption; the
// marker is only honored by Decrypt, so raw byte payloads meant for
// DecryptBytes must leave it unset.
func (c *Symmetric) EncryptBytes(data []byte, allowCompress bool) (string, error) {
	plaintext := data
	if allowCompress && len(data) > compressThreshold {
		compressed, err := compress(data)
		if err != nil {
			return "", errors.Wrap(err, "compressing payload")
		}
		plaintext = append(append([]byte{}, compressMarker...), compressed...)
	}

	var iv, ciphertext []byte
	var err error

	switch c.algorithm {
	case DefaultSymmetricAlgorithm:
		iv, ciphertext, err = c.sealGCM(plaintext)
	case CompatSymmetricAlgorithm:
		iv, ciphertext, err = c.sealCBC(plaintext)
	default:
		err = errors.Wrap(ErrUnsupportedAlgorithm, c.algorithm)
	}
	if err != nil {
		return "", err
	}

	combined := make([]byte, 0, len(iv)+len(ciphertext))
	combined = append(combined, iv...)
	combined = append(combined, ciphertext...)

	return base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt decrypts a payload produced by Encrypt, transparently
// decompressing marked payloads
func (c *Symmetric) Decrypt(payload string) (string, error) {
	plaintext, err := c.DecryptBytes(payload)
	if err != nil {
		return "", err
	}

	if len(plaintext) > len(compressMarker) && bytes.Equal(plaintext[:len(compressMarker)], compressMarker) {
		decompressed, err := decompress(plaintext[len(compressMarker):])
		if err != nil {
			return "", errors.Wrap(err, "decompressing payload")
		}

		return string(decompressed), nil
	}

	return string(plaintext), nil
}

// DecryptBytes decrypts a base64 payload of IV followed by ciphertext. The
// result is the raw plaintext; a byte payload that happens to begin with
// the compression marker comes back untouched.
func (c *Symmetric) DecryptBytes(payload string) ([]byte, error) {
	combined, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(err, "decoding payload")
	}

	var plaintext []byte

	switch c.algorithm {
	case DefaultSymmetricAlgorithm:
		plaintext, err = c.openGCM(combined)
	case CompatSymmetricAlgorithm:
		plaintext, err = c.openCBC(combined)
	default:
		err = errors.Wrap(ErrUnsupportedAlgorithm, c.algorithm)
	}
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

func (c *Symmetric) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "creating gcm")
	}

	return aead, nil
}

func (c *Symmetric) sealGCM(plaintext []byte) ([]byte, []byte, error) {
	aead, err := c.newGCM()
	if err != nil {
		return nil, nil, err
	}

	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, errors.Wrap(err, "generating iv")
	}

	return iv, aead.Seal(nil, iv, plaintext, nil), nil
}

func (c *Symmetric) openGCM(combined []byte) ([]byte, error) {
	aead, err := c.newGCM()
	if err != nil {
		return nil, err
	}

	if len(combined) < gcmIVSize {
		return nil, errors.New("payload too short")
	}

	plaintext, err := aead.Open(nil, combined[:gcmIVSize], combined[gcmIVSize:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening ciphertext")
	}

	return plaintext, nil
}

func (c *Symmetric) sealCBC(plaintext []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating cipher")
	}

	iv := make([]byte, cbcIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, errors.Wrap(err, "generating iv")
	}

	padded := padPKCS7(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return iv, ciphertext, nil
}

func (c *Symmetric) openCBC(combined []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "creating cipher")
	}

	if len(combined) < cbcIVSize+block.BlockSize() {
		return nil, errors.New("payload too short")
	}

	ciphertext := combined[cbcIVSize:]
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ciphertext is not block-aligned")
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, combined[:cbcIVSize]).CryptBlocks(padded, ciphertext)

	return unpadPKCS7(padded, block.BlockSize())
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, 0, len(data)+n)
	padded = append(padded, data...)

	return append(padded, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded data")
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-n], nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "writing gzip")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing gzip writer")
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "creating gzip reader")
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading gzip")
	}

	return b, nil
}
