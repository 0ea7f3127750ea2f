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

// Package keyring manages the note encryption keys of a session. Keys synced
// from the server are wrapped under the account root key; keys created
// locally and not yet pushed are wrapped under the device-local key.
package keyring

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/notevault/notevault/pkg/cli/crypt"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/clock"
	"github.com/pkg/errors"
)

// Metadata carries the flags attached to a key set
type Metadata struct {
	Root   bool `json:"root,omitempty"`
	Shared bool `json:"shared,omitempty"`
}

// KeySet is one named encryption key with its signing key pair
type KeySet struct {
	ID        string
	Name      string
	Symmetric *crypt.Symmetric
	Signature *crypt.Signature
	Metadata  Metadata
}

// ShareOffer carries the key material another account sends along when
// sharing a note. The payload travels hybrid-encrypted under the
// recipient's root signing key pair.
type ShareOffer struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	Name          string `json:"name"`
	NoteID        string `json:"noteId"`
	KeyName       string `json:"keyName"`
	Algorithm     string `json:"algorithm"`
	KeyData       string `json:"keyData"`
	AsymAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey     string `json:"publicKey"`
	PrivateKey    string `json:"privateKey"`
}

// DecodeShareOffer unwraps a share offer payload with the recipient's root
// signing key pair
func DecodeShareOffer(sig *crypt.Signature, payload string) (ShareOffer, error) {
	plaintext, err := sig.Decrypt(payload)
	if err != nil {
		return ShareOffer{}, errors.Wrap(err, "unwrapping share offer")
	}

	var offer ShareOffer
	if err := json.Unmarshal([]byte(plaintext), &offer); err != nil {
		return ShareOffer{}, errors.Wrap(err, "unmarshaling share offer")
	}

	return offer, nil
}

// Keyring holds the unwrapped key sets of a session
type Keyring struct {
	db         *database.DB
	localCrypt *crypt.Symmetric
	rootCrypt  *crypt.Symmetric
	clock      clock.Clock
	byName     map[string]*KeySet
}

// New creates an empty keyring over the given store
func New(db *database.DB, localCrypt, rootCrypt *crypt.Symmetric, c clock.Clock) *Keyring {
	return &Keyring{
		db:         db,
		localCrypt: localCrypt,
		rootCrypt:  rootCrypt,
		clock:      c,
		byName:     map[string]*KeySet{},
	}
}

// LoadAll unwraps every key in the store. Local pending keys shadow synced
// keys of the same name.
func (k *Keyring) LoadAll() error {
	k.byName = map[string]*KeySet{}

	remote, err := database.ListKeys(k.db)
	if err != nil {
		return errors.Wrap(err, "listing keys")
	}
	for _, record := range remote {
		ks, err := decodeKeySet(record, k.rootCrypt)
		if err != nil {
			return errors.Wrapf(err, "unwrapping key %s", record.Name)
		}
		k.byName[ks.Name] = ks
	}

	local, err := database.ListLocalKeys(k.db)
	if err != nil {
		return errors.Wrap(err, "listing local keys")
	}
	for _, record := range local {
		ks, err := decodeKeySet(record, k.localCrypt)
		if err != nil {
			return errors.Wrapf(err, "unwrapping local key %s", record.Name)
		}
		k.byName[ks.Name] = ks
	}

	return nil
}

// GetByName returns the key set with the given name, or nil
func (k *Keyring) GetByName(name string) *KeySet {
	return k.byName[name]
}

// GetByID returns the key set with the given id, or nil
func (k *Keyring) GetByID(id string) *KeySet {
	for _, ks := range k.byName {
		if ks.ID == id {
			return ks
		}
	}

	return nil
}

// All returns every loaded key set
func (k *Keyring) All() []*KeySet {
	ret := make([]*KeySet, 0, len(k.byName))
	for _, ks := range k.byName {
		ret = append(ret, ks)
	}

	return ret
}

// Create generates a new key set and persists it as local pending, wrapped
// under the device-local key, until the next push
func (k *Keyring) Create(name string, metadata Metadata) (*KeySet, error) {
	return k.CreateWithAlgorithms(name, metadata, crypt.DefaultSymmetricAlgorithm, crypt.DefaultAsymmetricAlgorithm)
}

// CreateWithAlgorithms is Create with explicit algorithm choices
func (k *Keyring) CreateWithAlgorithms(name string, metadata Metadata, symAlgorithm, asymAlgorithm string) (*KeySet, error) {
	if existing := k.byName[name]; existing != nil {
		return nil, errors.Errorf("key %s already exists", name)
	}

	symmetric, err := crypt.NewSymmetric(symAlgorithm)
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}
	signature, err := crypt.NewSignature(asymAlgorithm)
	if err != nil {
		return nil, errors.Wrap(err, "generating signing key pair")
	}

	ks := &KeySet{
		ID:        uuid.NewString(),
		Name:      name,
		Symmetric: symmetric,
		Signature: signature,
		Metadata:  metadata,
	}

	if err := k.saveLocal(ks); err != nil {
		return nil, err
	}
	k.byName[name] = ks

	return ks, nil
}

// CreateFromShare installs the key set carried by a share offer so the
// shared note becomes readable. The key gets a fresh id under this account
// and is persisted as local pending until the next push.
func (k *Keyring) CreateFromShare(offer ShareOffer) (*KeySet, error) {
	if existing := k.byName[offer.KeyName]; existing != nil {
		return nil, errors.Errorf("key %s already exists", offer.KeyName)
	}

	symmetric, err := crypt.SymmetricFromKeyString(offer.Algorithm, offer.KeyData)
	if err != nil {
		return nil, errors.Wrap(err, "restoring shared key")
	}
	signature, err := crypt.SignatureFromPem(offer.AsymAlgorithm, offer.PublicKey, offer.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "restoring shared signing key pair")
	}

	ks := &KeySet{
		ID:        uuid.NewString(),
		Name:      offer.KeyName,
		Symmetric: symmetric,
		Signature: signature,
		Metadata:  Metadata{Shared: true},
	}

	if err := k.saveLocal(ks); err != nil {
		return nil, err
	}
	k.byName[ks.Name] = ks

	return ks, nil
}

// LoadByID reloads a single key set from the store by id and refreshes the
// in-memory entry of its name. The local pending copy wins when both
// namespaces hold the id. Returns nil when the id is unknown.
func (k *Keyring) LoadByID(id string) (*KeySet, error) {
	record, err := database.GetLocalKeyByID(k.db, id)
	if err != nil {
		return nil, errors.Wrap(err, "getting local key")
	}
	wrapping := k.localCrypt

	if record == nil {
		record, err = database.GetKeyByID(k.db, id)
		if err != nil {
			return nil, errors.Wrap(err, "getting key")
		}
		wrapping = k.rootCrypt
	}
	if record == nil {
		return nil, nil
	}

	ks, err := decodeKeySet(*record, wrapping)
	if err != nil {
		return nil, errors.Wrapf(err, "unwrapping key %s", record.Name)
	}
	k.byName[ks.Name] = ks

	return ks, nil
}

func (k *Keyring) saveLocal(ks *KeySet) error {
	record, err := encodeKeySet(ks, k.localCrypt, k.clock)
	if err != nil {
		return errors.Wrapf(err, "wrapping key %s", ks.Name)
	}
	if err := database.SaveLocalKey(k.db, record); err != nil {
		return errors.Wrapf(err, "saving local key %s", ks.Name)
	}

	return nil
}

// EncodeRemote wraps the key set under the account root key for transport
func (k *Keyring) EncodeRemote(ks *KeySet) (database.KeyRecord, error) {
	return encodeKeySet(ks, k.rootCrypt, k.clock)
}

// DecodeRemote unwraps a synced key record using the account root key
func (k *Keyring) DecodeRemote(record database.KeyRecord) (*KeySet, error) {
	return decodeKeySet(record, k.rootCrypt)
}

// DecodeLocal unwraps a local pending key record using the device-local key
func (k *Keyring) DecodeLocal(record database.KeyRecord) (*KeySet, error) {
	return decodeKeySet(record, k.localCrypt)
}

// Refresh replaces the in-memory key set of the given name after a pull
func (k *Keyring) Refresh(ks *KeySet) {
	k.byName[ks.Name] = ks
}

// Forget drops the in-memory key set of the given name
func (k *Keyring) Forget(name string) {
	delete(k.byName, name)
}

func encodeKeySet(ks *KeySet, wrapping *crypt.Symmetric, c clock.Clock) (database.KeyRecord, error) {
	keyData, err := wrapping.Encrypt(ks.Symmetric.KeyString())
	if err != nil {
		return database.KeyRecord{}, errors.Wrap(err, "wrapping key material")
	}

	var asymAlgorithm, publicPem, privateData string
	if ks.Signature != nil {
		asymAlgorithm = ks.Signature.Algorithm()

		publicPem, err = ks.Signature.PublicKeyPem()
		if err != nil {
			return database.KeyRecord{}, errors.Wrap(err, "encoding public key")
		}

		if ks.Signature.HasPrivateKey() {
			privatePem, err := ks.Signature.PrivateKeyPem()
			if err != nil {
				return database.KeyRecord{}, errors.Wrap(err, "encoding private key")
			}
			privateData, err = wrapping.Encrypt(privatePem)
			if err != nil {
				return database.KeyRecord{}, errors.Wrap(err, "wrapping private key")
			}
		}
	}

	metadata, err := json.Marshal(ks.Metadata)
	if err != nil {
		return database.KeyRecord{}, errors.Wrap(err, "marshaling metadata")
	}

	return database.KeyRecord{
		Name:          ks.Name,
		ID:            ks.ID,
		Algorithm:     ks.Symmetric.Algorithm(),
		KeyData:       keyData,
		AsymAlgorithm: asymAlgorithm,
		PublicKey:     publicPem,
		PrivateKey:    privateData,
		Metadata:      string(metadata),
		Modified:      c.Now().UTC().Format(time.RFC3339),
	}, nil
}

func decodeKeySet(record database.KeyRecord, wrapping *crypt.Symmetric) (*KeySet, error) {
	keyStr, err := wrapping.Decrypt(record.KeyData)
	if err != nil {
		return nil, errors.Wrap(err, "unwrapping key material")
	}
	symmetric, err := crypt.SymmetricFromKeyString(record.Algorithm, keyStr)
	if err != nil {
		return nil, errors.Wrap(err, "restoring key")
	}

	var signature *crypt.Signature
	if record.PublicKey != "" {
		var privatePem string
		if record.PrivateKey != "" {
			privatePem, err = wrapping.Decrypt(record.PrivateKey)
			if err != nil {
				return nil, errors.Wrap(err, "unwrapping private key")
			}
		}
		signature, err = crypt.SignatureFromPem(record.AsymAlgorithm, record.PublicKey, privatePem)
		if err != nil {
			return nil, errors.Wrap(err, "restoring signing key pair")
		}
	}

	var metadata Metadata
	if record.Metadata != "" {
		if err := json.Unmarshal([]byte(record.Metadata), &metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshaling metadata")
		}
	}

	return &KeySet{
		ID:        record.ID,
		Name:      record.Name,
		Symmetric: symmetric,
		Signature: signature,
		Metadata:  metadata,
	}, nil
}
