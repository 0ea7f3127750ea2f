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

package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/pkg/errors"
)

// ErrNoPersistedLogin is returned when no login blob has been persisted
var ErrNoPersistedLogin = errors.New("no persisted login")

// loginBlob is the persisted session. Data holds settings re-encrypted
// under the root key; everything else is needed to rebuild the session
// without the password.
type loginBlob struct {
	Username           string `json:"username"`
	UserID             string `json:"userId"`
	SessionKey         string `json:"sessionKey"`
	UserCryptAlgorithm string `json:"userCryptAlgorithm"`
	RootCrypt          struct {
		Algorithm string `json:"algorithm"`
		Key       string `json:"key"`
	} `json:"rootCrypt"`
	RootSignature struct {
		Algorithm  string `json:"algorithm"`
		PublicKey  string `json:"publicKey"`
		PrivateKey string `json:"privateKey"`
	} `json:"rootSignature"`
	Data string `json:"data"`
}

// sessionData is the inner encrypted payload of a login blob
type sessionData struct {
	ClientConfig string `json:"clientConfig"`
	UserStats    string `json:"userStats"`
	UserData     string `json:"userData"`
}

func sessionPath(ctx context.NotevaultCtx) string {
	return filepath.Join(ctx.Paths.Data, consts.NotevaultDirName, consts.SessionFilename)
}

// PersistLogin writes the session to disk so it can be resumed without the
// password. The blob is compressed and base64 encoded; secure storage of
// the resulting file is the platform's concern.
func (s *Session) PersistLogin() error {
	var blob loginBlob
	blob.Username = s.Username
	blob.UserID = s.UserID
	blob.SessionKey = s.Ctx.SessionKey
	blob.UserCryptAlgorithm = s.userCryptAlgorithm
	blob.RootCrypt.Algorithm = s.RootCrypt.Algorithm()
	blob.RootCrypt.Key = s.RootCrypt.KeyString()
	blob.RootSignature.Algorithm = s.RootSignature.Algorithm()

	publicPem, err := s.RootSignature.PublicKeyPem()
	if err != nil {
		return errors.Wrap(err, "encoding root public key")
	}
	privatePem, err := s.RootSignature.PrivateKeyPem()
	if err != nil {
		return errors.Wrap(err, "encoding root private key")
	}
	blob.RootSignature.PublicKey = publicPem
	blob.RootSignature.PrivateKey = privatePem

	inner, err := json.Marshal(sessionData{UserData: s.UserData})
	if err != nil {
		return errors.Wrap(err, "marshaling session data")
	}
	blob.Data, err = s.RootCrypt.Encrypt(string(inner))
	if err != nil {
		return errors.Wrap(err, "encrypting session data")
	}

	raw, err := json.Marshal(blob)
	if err != nil {
		return errors.Wrap(err, "marshaling login blob")
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return errors.Wrap(err, "compressing login blob")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "flushing login blob")
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := os.WriteFile(sessionPath(s.Ctx), []byte(encoded), 0600); err != nil {
		return errors.Wrap(err, "writing login blob")
	}

	return nil
}

// RestoreLogin resumes a persisted session and runs the same sync cycle a
// fresh login does, so a resumed session is never stale
func RestoreLogin(ctx context.NotevaultCtx) (*Session, error) {
	s, err := Resume(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.finishLogin(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Resume rebuilds a persisted session without talking to the server. Pending
// changes made over a resumed session are picked up by the next sync.
func Resume(ctx context.NotevaultCtx) (*Session, error) {
	blob, err := readPersistedLogin(ctx)
	if err != nil {
		return nil, err
	}

	ctx.SessionKey = blob.SessionKey

	bundle := keyBundle{}
	bundle.RootCrypt.Algorithm = blob.RootCrypt.Algorithm
	bundle.RootCrypt.Key = blob.RootCrypt.Key
	bundle.RootSignature.Algorithm = blob.RootSignature.Algorithm
	bundle.RootSignature.PublicKey = blob.RootSignature.PublicKey
	bundle.RootSignature.PrivateKey = blob.RootSignature.PrivateKey

	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling key bundle")
	}

	s, err := open(ctx, blob.Username, blob.UserID, blob.UserCryptAlgorithm, string(bundleJSON))
	if err != nil {
		return nil, err
	}

	inner, err := s.RootCrypt.Decrypt(blob.Data)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "decrypting session data")
	}
	var data sessionData
	if err := json.Unmarshal([]byte(inner), &data); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "unmarshaling session data")
	}
	s.UserData = data.UserData

	return s, nil
}

func readPersistedLogin(ctx context.NotevaultCtx) (*loginBlob, error) {
	encoded, err := os.ReadFile(sessionPath(ctx))
	if os.IsNotExist(err) {
		return nil, ErrNoPersistedLogin
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading login blob")
	}

	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "decoding login blob")
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "opening login blob")
	}
	defer zr.Close()

	decompressed, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing login blob")
	}

	var blob loginBlob
	if err := json.Unmarshal(decompressed, &blob); err != nil {
		return nil, errors.Wrap(err, "unmarshaling login blob")
	}

	return &blob, nil
}

// HasPersistedLogin reports whether a login blob exists
func HasPersistedLogin(ctx context.NotevaultCtx) bool {
	_, err := os.Stat(sessionPath(ctx))

	return err == nil
}

// RemovePersistedLogin deletes the login blob if one exists
func RemovePersistedLogin(ctx context.NotevaultCtx) error {
	err := os.Remove(sessionPath(ctx))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing login blob")
	}

	return nil
}
