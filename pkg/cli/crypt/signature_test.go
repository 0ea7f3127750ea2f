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
	"testing"

	"github.com/notevault/notevault/pkg/assert"
	"github.com/pkg/errors"
)

func testSignature(t *testing.T) *Signature {
	t.Helper()

	s, err := NewSignature("RSA;3072")
	if err != nil {
		t.Fatal(errors.Wrap(err, "generating key pair"))
	}

	return s
}

func TestSignatureSignVerify(t *testing.T) {
	s := testSignature(t)

	doc := map[string]interface{}{
		"id":   "7ce106f8-4e14-4b7a-b144-3ae95cd5ed2a",
		"name": "shared-key",
	}

	if err := s.Sign("owner", doc); err != nil {
		t.Fatal(errors.Wrap(err, "signing"))
	}

	ok, err := s.Verify("owner", doc)
	if err != nil {
		t.Fatal(errors.Wrap(err, "verifying"))
	}
	assert.Equal(t, ok, true, "signature should verify")

	// tampering with a signed field must invalidate the signature
	doc["name"] = "other-key"
	ok, err = s.Verify("owner", doc)
	if err != nil {
		t.Fatal(errors.Wrap(err, "verifying"))
	}
	assert.Equal(t, ok, false, "signature should not verify after tampering")
}

func TestSignatureMultipleSigners(t *testing.T) {
	owner := testSignature(t)
	recipient := testSignature(t)

	doc := map[string]interface{}{
		"id": "c4c2e3a0-2a3f-41ff-8a9b-19d2e1a0cc01",
	}

	if err := owner.Sign("owner", doc); err != nil {
		t.Fatal(errors.Wrap(err, "signing as owner"))
	}

	ok, err := recipient.Verify("owner", doc)
	if err != nil {
		t.Fatal(errors.Wrap(err, "verifying"))
	}
	assert.Equal(t, ok, false, "verifying with the wrong public key should fail")

	_, err = owner.Verify("missing", doc)
	if err == nil {
		t.Errorf("verifying a missing signature name should error")
	}
}

func TestSignatureFromPem(t *testing.T) {
	s := testSignature(t)

	publicPem, err := s.PublicKeyPem()
	if err != nil {
		t.Fatal(errors.Wrap(err, "exporting public key"))
	}
	privatePem, err := s.PrivateKeyPem()
	if err != nil {
		t.Fatal(errors.Wrap(err, "exporting private key"))
	}

	restored, err := SignatureFromPem(s.Algorithm(), publicPem, privatePem)
	if err != nil {
		t.Fatal(errors.Wrap(err, "restoring from pem"))
	}

	doc := map[string]interface{}{"id": "1"}
	if err := s.Sign("owner", doc); err != nil {
		t.Fatal(errors.Wrap(err, "signing"))
	}

	ok, err := restored.Verify("owner", doc)
	if err != nil {
		t.Fatal(errors.Wrap(err, "verifying"))
	}
	assert.Equal(t, ok, true, "restored key should verify signatures from the original")

	// public-only instances can verify but not sign or decrypt
	publicOnly, err := SignatureFromPem(s.Algorithm(), publicPem, "")
	if err != nil {
		t.Fatal(errors.Wrap(err, "restoring public key"))
	}
	assert.Equal(t, publicOnly.HasPrivateKey(), false, "should not have a private key")

	err = publicOnly.Sign("owner", map[string]interface{}{"id": "2"})
	assert.Equal(t, errors.Cause(err), ErrMissingPrivateKey, "error mismatch")

	_, err = publicOnly.PrivateKeyPem()
	assert.Equal(t, errors.Cause(err), ErrMissingPrivateKey, "error mismatch")
}

func TestSignatureHybridEncrypt(t *testing.T) {
	s := testSignature(t)

	payload, err := s.Encrypt("key material to share")
	if err != nil {
		t.Fatal(errors.Wrap(err, "encrypting"))
	}

	got, err := s.Decrypt(payload)
	if err != nil {
		t.Fatal(errors.Wrap(err, "decrypting"))
	}
	assert.Equal(t, got, "key material to share", "decrypted text mismatch")

	// decryption requires the private key
	publicPem, err := s.PublicKeyPem()
	if err != nil {
		t.Fatal(errors.Wrap(err, "exporting public key"))
	}
	publicOnly, err := SignatureFromPem(s.Algorithm(), publicPem, "")
	if err != nil {
		t.Fatal(errors.Wrap(err, "restoring public key"))
	}

	_, err = publicOnly.Decrypt(payload)
	assert.Equal(t, errors.Cause(err), ErrMissingPrivateKey, "error mismatch")
}

func TestSignatureUnsupportedAlgorithm(t *testing.T) {
	_, err := NewSignature("RSA;1024")
	assert.Equal(t, errors.Cause(err), ErrUnsupportedAlgorithm, "error mismatch")

	_, err = NewSignature("ECDSA;P256")
	assert.Equal(t, errors.Cause(err), ErrUnsupportedAlgorithm, "error mismatch")
}
