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

package crypt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultAsymmetricAlgorithm is the algorithm used for newly created key pairs
const DefaultAsymmetricAlgorithm = "RSA;4096"

// ErrMissingPrivateKey is returned when an operation requires a private key
// but the Signature was built from a public key only
var ErrMissingPrivateKey = errors.New("private key not available")

// NamedSignature is a signature over a document, tagged with the name of
// the key that produced it
type NamedSignature struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Signature holds an RSA key pair used for named-document signing and for
// hybrid encryption of key material. The private key is optional; a
// Signature built from a public key can verify and encrypt only.
type Signature struct {
	algorithm  string
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
}

func parseAsymmetricAlgorithm(algorithm string) (int, error) {
	parts := strings.Split(algorithm, ";")
	if len(parts) != 2 || parts[0] != "RSA" {
		return 0, errors.Wrap(ErrUnsupportedAlgorithm, algorithm)
	}

	bits, err := strconv.Atoi(parts[1])
	if err != nil || (bits != 3072 && bits != 4096) {
		return 0, errors.Wrap(ErrUnsupportedAlgorithm, algorithm)
	}

	return bits, nil
}

// NewSignature generates a fresh RSA key pair for the given algorithm
func NewSignature(algorithm string) (*Signature, error) {
	bits, err := parseAsymmetricAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "generating key pair")
	}

	return &Signature{
		algorithm:  algorithm,
		publicKey:  &key.PublicKey,
		privateKey: key,
	}, nil
}

// SignatureFromPem builds a Signature from PEM-encoded keys. privatePem may
// be empty, in which case only verification and encryption are available.
func SignatureFromPem(algorithm, publicPem, privatePem string) (*Signature, error) {
	if _, err := parseAsymmetricAlgorithm(algorithm); err != nil {
		return nil, err
	}

	block, _ := pem.Decode([]byte(publicPem))
	if block == nil {
		return nil, errors.New("decoding public key pem")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}

	ret := &Signature{
		algorithm: algorithm,
		publicKey: rsaPub,
	}

	if privatePem != "" {
		block, _ := pem.Decode([]byte(privatePem))
		if block == nil {
			return nil, errors.New("decoding private key pem")
		}
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parsing private key")
		}
		rsaPriv, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		ret.privateKey = rsaPriv
	}

	return ret, nil
}

// Algorithm returns the algorithm identifier
func (s *Signature) Algorithm() string {
	return s.algorithm
}

// HasPrivateKey reports whether signing and decryption are available
func (s *Signature) HasPrivateKey() bool {
	return s.privateKey != nil
}

// PublicKeyPem returns the public key encoded as a PEM block
func (s *Signature) PublicKeyPem() (string, error) {
	b, err := x509.MarshalPKIXPublicKey(s.publicKey)
	if err != nil {
		return "", errors.Wrap(err, "marshaling public key")
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: b})), nil
}

// PrivateKeyPem returns the private key encoded as a PEM block
func (s *Signature) PrivateKeyPem() (string, error) {
	if s.privateKey == nil {
		return "", ErrMissingPrivateKey
	}

	b, err := x509.MarshalPKCS8PrivateKey(s.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "marshaling private key")
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b})), nil
}

// signaturePayload returns the canonical encoding of a document with its
// signatures field excluded. Key order is deterministic because the
// encoder sorts map keys.
func signaturePayload(doc map[string]interface{}) ([]byte, error) {
	payload := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "signatures" {
			continue
		}
		payload[k] = v
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling payload")
	}

	return b, nil
}

// Sign signs the document excluding its signatures field and appends a
// NamedSignature entry under the given name
func (s *Signature) Sign(name string, doc map[string]interface{}) error {
	if s.privateKey == nil {
		return ErrMissingPrivateKey
	}

	payload, err := signaturePayload(doc)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return errors.Wrap(err, "signing payload")
	}

	var sigs []interface{}
	if existing, ok := doc["signatures"].([]interface{}); ok {
		sigs = existing
	}
	doc["signatures"] = append(sigs, map[string]interface{}{
		"name":      name,
		"signature": base64.StdEncoding.EncodeToString(sig),
	})

	return nil
}

// Verify checks the named signature on the document against the canonical
// encoding of the document without its signatures field
func (s *Signature) Verify(name string, doc map[string]interface{}) (bool, error) {
	sigs, ok := doc["signatures"].([]interface{})
	if !ok {
		return false, errors.New("document has no signatures")
	}

	var sigValue string
	for _, entry := range sigs {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if n, _ := m["name"].(string); n == name {
			sigValue, _ = m["signature"].(string)
			break
		}
	}
	if sigValue == "" {
		return false, errors.Errorf("no signature named %s", name)
	}

	payload, err := signaturePayload(doc)
	if err != nil {
		return false, err
	}

	return s.VerifyRaw(sigValue, payload)
}

// VerifyRaw checks a base64-encoded signature against raw data
func (s *Signature) VerifyRaw(signature string, data []byte) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, errors.Wrap(err, "decoding signature")
	}

	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(s.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return false, nil
	}

	return true, nil
}

// hybridEnvelope is the wire form of a hybrid-encrypted payload
type hybridEnvelope struct {
	Data         string `json:"data"`
	EncryptedKey string `json:"encryptedKey"`
}

// Encrypt encrypts data with a one-time symmetric key and wraps that key
// with RSA-OAEP. The result is a base64-encoded JSON envelope.
func (s *Signature) Encrypt(data string) (string, error) {
	crypt, err := NewSymmetric(CompatSymmetricAlgorithm)
	if err != nil {
		return "", err
	}

	encryptedData, err := crypt.Encrypt(data)
	if err != nil {
		return "", errors.Wrap(err, "encrypting data")
	}

	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, s.publicKey, crypt.Key(), nil)
	if err != nil {
		return "", errors.Wrap(err, "wrapping key")
	}

	envelope, err := json.Marshal(hybridEnvelope{
		Data:         encryptedData,
		EncryptedKey: base64.StdEncoding.EncodeToString(encryptedKey),
	})
	if err != nil {
		return "", errors.Wrap(err, "marshaling envelope")
	}

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt unwraps the one-time key with RSA-OAEP and decrypts the payload
func (s *Signature) Decrypt(data string) (string, error) {
	if s.privateKey == nil {
		return "", ErrMissingPrivateKey
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", errors.Wrap(err, "decoding envelope")
	}

	var envelope hybridEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", errors.Wrap(err, "unmarshaling envelope")
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(envelope.EncryptedKey)
	if err != nil {
		return "", errors.Wrap(err, "decoding wrapped key")
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, s.privateKey, wrappedKey, nil)
	if err != nil {
		return "", errors.Wrap(err, "unwrapping key")
	}

	crypt, err := SymmetricFromKey(CompatSymmetricAlgorithm, aesKey)
	if err != nil {
		return "", err
	}

	return crypt.Decrypt(envelope.Data)
}
