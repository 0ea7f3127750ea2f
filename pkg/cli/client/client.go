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

// Package client provides interfaces for interacting with the Notevault server
// and the data structures for responses
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrInvalidLogin is an error for invalid credentials for login
var ErrInvalidLogin = errors.New("wrong credentials")

// ErrContentTypeMismatch is an error for an unexpected response content type
var ErrContentTypeMismatch = errors.New("content type mismatch")

// HTTPError represents an HTTP error response from the server
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf(`response %d "%s"`, e.StatusCode, e.Message)
}

// IsConflict returns true if the error is a 409 Conflict error
func (e *HTTPError) IsConflict() bool {
	return e.StatusCode == 409
}

var contentTypeApplicationJSON = "application/json"
var contentTypeNone = ""

// requestOptions contains options for requests
type requestOptions struct {
	HTTPClient *http.Client
	// ExpectedContentType is the Content-Type that the client is expecting from the server
	ExpectedContentType *string
}

const (
	// clientRateLimitPerSecond is the max requests per second the client will make
	clientRateLimitPerSecond = 50
	// clientRateLimitBurst is the burst capacity for rate limiting
	clientRateLimitBurst = 100
)

// rateLimitedTransport wraps an http.RoundTripper with rate limiting
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Wait for rate limiter to allow the request
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewRateLimitedHTTPClient creates an HTTP client with rate limiting
func NewRateLimitedHTTPClient() *http.Client {
	// Calculate interval from rate: 1 second / requests per second
	interval := time.Second / time.Duration(clientRateLimitPerSecond)

	transport := &rateLimitedTransport{
		transport: http.DefaultTransport,
		limiter:   rate.NewLimiter(rate.Every(interval), clientRateLimitBurst),
	}
	return &http.Client{
		Transport: transport,
	}
}

func getHTTPClient(ctx context.NotevaultCtx, options *requestOptions) *http.Client {
	if options != nil && options.HTTPClient != nil {
		return options.HTTPClient
	}

	if ctx.HTTPClient != nil {
		return ctx.HTTPClient
	}

	return &http.Client{}
}

func getExpectedContentType(options *requestOptions) string {
	if options != nil && options.ExpectedContentType != nil {
		return *options.ExpectedContentType
	}

	return contentTypeApplicationJSON
}

func getReq(ctx context.NotevaultCtx, path, method, body string) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s%s", ctx.APIEndpoint, path)
	req, err := http.NewRequest(method, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "constructing http request")
	}

	req.Header.Set("CLI-Version", ctx.Version)

	if ctx.SessionKey != "" {
		credential := fmt.Sprintf("Bearer %s", ctx.SessionKey)
		req.Header.Set("Authorization", credential)
	}

	return req, nil
}

// checkRespErr checks if the given http response indicates an error. It returns a boolean indicating
// if the response is an error, and a decoded error message.
func checkRespErr(res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "server responded with %d but client could not read the response body", res.StatusCode)
	}

	bodyStr := string(body)
	return &HTTPError{
		StatusCode: res.StatusCode,
		Message:    strings.TrimRight(bodyStr, "\n"),
	}
}

func checkContentType(res *http.Response, options *requestOptions) error {
	expected := getExpectedContentType(options)

	got := res.Header.Get("Content-Type")
	if got != expected {
		return errors.Wrapf(ErrContentTypeMismatch, "got: '%s' want: '%s'. Did you configure your endpoint correctly?", got, expected)
	}

	return nil
}

// doReq does a http request to the given path in the api endpoint
func doReq(ctx context.NotevaultCtx, method, path, body string, options *requestOptions) (*http.Response, error) {
	req, err := getReq(ctx, path, method, body)
	if err != nil {
		return nil, errors.Wrap(err, "getting request")
	}

	log.Debug("HTTP %s %s\n", method, path)

	hc := getHTTPClient(ctx, options)
	res, err := hc.Do(req)
	if err != nil {
		return res, errors.Wrap(err, "making http request")
	}

	log.Debug("HTTP %d %s\n", res.StatusCode, res.Status)

	if err = checkRespErr(res); err != nil {
		return res, errors.Wrap(err, "server responded with an error")
	}

	if err = checkContentType(res, options); err != nil {
		return res, errors.Wrap(err, "unexpected Content-Type")
	}

	return res, nil
}

// doAuthorizedReq does a http request to the given path in the api endpoint as a user,
// with the appropriate headers. The given path should include the preceding slash.
func doAuthorizedReq(ctx context.NotevaultCtx, method, path, body string, options *requestOptions) (*http.Response, error) {
	if ctx.SessionKey == "" {
		return nil, errors.New("no session key found")
	}

	return doReq(ctx, method, path, body, options)
}

// InitializationData holds the server-side account material needed to
// bootstrap a session. Data is the account's key bundle encrypted under the
// user's password-derived key.
type InitializationData struct {
	UserID     string `json:"userId"`
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Data       string `json:"data"`
}

type authenticatePayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateResp is the response from the authenticate endpoint
type AuthenticateResp struct {
	SessionKey         string             `json:"sessionKey"`
	InitializationData InitializationData `json:"initializationData"`
}

// Authenticate requests a session token and the account's initialization data
func Authenticate(ctx context.NotevaultCtx, username, password string) (AuthenticateResp, error) {
	payload := authenticatePayload{
		Username: username,
		Password: password,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return AuthenticateResp{}, errors.Wrap(err, "marshaling payload")
	}

	res, err := doReq(ctx, "POST", "/v1/auth", string(b), nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			return AuthenticateResp{}, ErrInvalidLogin
		}
		return AuthenticateResp{}, errors.Wrap(err, "making http request")
	}

	var resp AuthenticateResp
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return AuthenticateResp{}, errors.Wrap(err, "decoding payload")
	}

	return resp, nil
}

// SignOut deletes a user session on the server side
func SignOut(ctx context.NotevaultCtx) error {
	// Create a client that shares the transport (and thus rate limiter) from ctx.HTTPClient
	// but doesn't follow redirects
	var hc *http.Client
	if ctx.HTTPClient != nil {
		hc = &http.Client{
			Transport: ctx.HTTPClient.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	} else {
		log.Warnf("No HTTP client configured for signout - falling back\n")
		hc = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	opts := requestOptions{
		HTTPClient:          hc,
		ExpectedContentType: &contentTypeNone,
	}
	_, err := doAuthorizedReq(ctx, "POST", "/v1/auth/signout", "", &opts)
	if err != nil {
		return errors.Wrap(err, "making http request")
	}

	return nil
}

// SyncItem is one encrypted item of a note on the wire
type SyncItem struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
	Data    string `json:"data"`
}

// SyncNote is a note in a sync changes response
type SyncNote struct {
	ID       string     `json:"id"`
	KeyName  string     `json:"keyName"`
	Created  string     `json:"created"`
	Modified string     `json:"modified"`
	Sync     int64      `json:"sync"`
	Deleted  bool       `json:"deleted"`
	Items    []SyncItem `json:"items"`
}

// SyncKey is an encryption key in a sync changes response. KeyData and
// PrivateKey are wrapped under the account root key.
type SyncKey struct {
	Name          string `json:"name"`
	ID            string `json:"id"`
	Algorithm     string `json:"algorithm"`
	KeyData       string `json:"keyData"`
	AsymAlgorithm string `json:"asymmetricAlgorithm"`
	PublicKey     string `json:"publicKey"`
	PrivateKey    string `json:"privateKey"`
	Metadata      string `json:"metadata"`
	Modified      string `json:"modified"`
	Sync          int64  `json:"sync"`
	Deleted       bool   `json:"deleted"`
}

// SyncChanges is the response from the get changes endpoint
type SyncChanges struct {
	Notes []SyncNote `json:"notes"`
	Keys  []SyncKey  `json:"keys"`
}

// GetChangesSince fetches notes and keys that changed after the given cursor
// values. An empty response means the client is caught up.
func GetChangesSince(ctx context.NotevaultCtx, noteCursor, keyCursor int64) (SyncChanges, error) {
	v := url.Values{}
	v.Set("note_cursor", strconv.FormatInt(noteCursor, 10))
	v.Set("key_cursor", strconv.FormatInt(keyCursor, 10))

	path := fmt.Sprintf("/v1/sync/changes?%s", v.Encode())
	res, err := doAuthorizedReq(ctx, "GET", path, "", nil)
	if err != nil {
		return SyncChanges{}, errors.Wrap(err, "making the request")
	}

	var resp SyncChanges
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, errors.Wrap(err, "decoding payload")
	}

	return resp, nil
}

// Action kinds accepted by the push endpoint
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// NoteAction is one pending note change to push
type NoteAction struct {
	Action   string     `json:"action"`
	ID       string     `json:"id"`
	KeyName  string     `json:"keyName,omitempty"`
	Created  string     `json:"created,omitempty"`
	Modified string     `json:"modified,omitempty"`
	Items    []SyncItem `json:"items,omitempty"`
}

// KeyAction is one pending key change to push
type KeyAction struct {
	Action        string `json:"action"`
	Name          string `json:"name"`
	ID            string `json:"id,omitempty"`
	Algorithm     string `json:"algorithm,omitempty"`
	KeyData       string `json:"keyData,omitempty"`
	AsymAlgorithm string `json:"asymmetricAlgorithm,omitempty"`
	PublicKey     string `json:"publicKey,omitempty"`
	PrivateKey    string `json:"privateKey,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
	Modified      string `json:"modified,omitempty"`
}

// SyncResult reports the outcome of one pushed action
type SyncResult struct {
	ItemType string `json:"itemType"`
	Action   string `json:"action"`
	ID       string `json:"id"`
	Success  bool   `json:"success"`
	Sync     int64  `json:"sync"`
}

type pushChangesPayload struct {
	NoteActions []NoteAction `json:"noteActions"`
	KeyActions  []KeyAction  `json:"keyActions"`
}

// PushChangesResp is the response from the push changes endpoint
type PushChangesResp struct {
	Results []SyncResult `json:"results"`
}

// PushChanges sends pending note and key changes to the server. Each action
// is acknowledged individually; a failed action is reported in its result
// rather than failing the whole push.
func PushChanges(ctx context.NotevaultCtx, noteActions []NoteAction, keyActions []KeyAction) ([]SyncResult, error) {
	payload := pushChangesPayload{
		NoteActions: noteActions,
		KeyActions:  keyActions,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling payload")
	}

	res, err := doAuthorizedReq(ctx, "POST", "/v1/sync/push", string(b), nil)
	if err != nil {
		return nil, errors.Wrap(err, "pushing changes to the server")
	}

	var resp PushChangesResp
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "decoding payload")
	}

	return resp.Results, nil
}

type updateUserDataPayload struct {
	Data string `json:"data"`
}

// UpdateUserData replaces the server-held encrypted user data blob
func UpdateUserData(ctx context.NotevaultCtx, data string) error {
	payload := updateUserDataPayload{
		Data: data,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling payload")
	}

	opts := requestOptions{
		ExpectedContentType: &contentTypeNone,
	}
	_, err = doAuthorizedReq(ctx, "PUT", "/v1/user/data", string(b), &opts)
	if err != nil {
		return errors.Wrap(err, "updating user data")
	}

	return nil
}
