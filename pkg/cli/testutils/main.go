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

// Package testutils provides utilities used in tests, including an
// in-process fake of the remote API
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/clock"
)

// TestSessionKey is the session key the fake server hands out
const TestSessionKey = "test-session-key"

// FakeServer is an in-process stand-in for the remote API. Server-side
// state is held in memory and can be seeded and inspected by tests.
type FakeServer struct {
	Server *httptest.Server

	mu sync.Mutex
	// Username and Password accepted by the auth endpoint
	Username string
	Password string
	// InitData is returned on successful authentication
	InitData client.InitializationData
	// FailIDs holds ids of pushed actions that should be rejected
	FailIDs map[string]bool

	notes      map[string]*client.SyncNote
	keys       map[string]*client.SyncKey
	noteCursor int64
	keyCursor  int64

	// UserData is the last blob accepted by the user data endpoint
	UserData string
	// PushCount is the number of push requests served
	PushCount int
	// ChangeCount is the number of get changes requests served
	ChangeCount int
	// PageSize caps entries per get changes response; 0 means no cap
	PageSize int
}

// NewFakeServer starts a fake API server that is shut down with the test
func NewFakeServer(t *testing.T) *FakeServer {
	s := &FakeServer{
		Username: "alice",
		Password: "password-1",
		FailIDs:  map[string]bool{},
		notes:    map[string]*client.SyncNote{},
		keys:     map[string]*client.SyncKey{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth", s.handleAuth)
	mux.HandleFunc("/v1/auth/signout", s.authorized(s.handleSignOut))
	mux.HandleFunc("/v1/sync/changes", s.authorized(s.handleChanges))
	mux.HandleFunc("/v1/sync/push", s.authorized(s.handlePush))
	mux.HandleFunc("/v1/user/data", s.authorized(s.handleUserData))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)

	return s
}

// NewCtx returns a context pointing at the fake server with an
// authenticated session
func (s *FakeServer) NewCtx() context.NotevaultCtx {
	c := clock.NewMock()
	c.SetNow(time.Date(2025, time.August, 1, 12, 0, 0, 0, time.UTC))

	return context.NotevaultCtx{
		APIEndpoint: s.Server.URL,
		Version:     "test",
		SessionKey:  TestSessionKey,
		Clock:       c,
	}
}

// PutNote seeds or replaces a note on the server, advancing its cursor
func (s *FakeServer) PutNote(n client.SyncNote) client.SyncNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noteCursor++
	n.Sync = s.noteCursor
	s.notes[n.ID] = &n

	return n
}

// PutKey seeds or replaces a key on the server, advancing its cursor
func (s *FakeServer) PutKey(k client.SyncKey) client.SyncKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keyCursor++
	k.Sync = s.keyCursor
	s.keys[k.Name] = &k

	return k
}

// Note returns the server-side copy of the note, or nil
func (s *FakeServer) Note(id string) *client.SyncNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.notes[id]
}

// Key returns the server-side copy of the key, or nil
func (s *FakeServer) Key(name string) *client.SyncKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.keys[name]
}

func (s *FakeServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != fmt.Sprintf("Bearer %s", TestSessionKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *FakeServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if payload.Username != s.Username || payload.Password != s.Password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, client.AuthenticateResp{
		SessionKey:         TestSessionKey,
		InitializationData: s.InitData,
	})
}

func (s *FakeServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *FakeServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	noteCursor, _ := strconv.ParseInt(r.URL.Query().Get("note_cursor"), 10, 64)
	keyCursor, _ := strconv.ParseInt(r.URL.Query().Get("key_cursor"), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ChangeCount++

	var changes client.SyncChanges
	for _, k := range s.keys {
		if k.Sync > keyCursor {
			changes.Keys = append(changes.Keys, *k)
		}
	}
	for _, n := range s.notes {
		if n.Sync > noteCursor {
			changes.Notes = append(changes.Notes, *n)
		}
	}

	if s.PageSize > 0 {
		if len(changes.Keys) > s.PageSize {
			sortKeysBySync(changes.Keys)
			changes.Keys = changes.Keys[:s.PageSize]
		}
		if len(changes.Notes) > s.PageSize {
			sortNotesBySync(changes.Notes)
			changes.Notes = changes.Notes[:s.PageSize]
		}
	}

	writeJSON(w, changes)
}

func sortNotesBySync(notes []client.SyncNote) {
	for i := 1; i < len(notes); i++ {
		for j := i; j > 0 && notes[j].Sync < notes[j-1].Sync; j-- {
			notes[j], notes[j-1] = notes[j-1], notes[j]
		}
	}
}

func sortKeysBySync(keys []client.SyncKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].Sync < keys[j-1].Sync; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func (s *FakeServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NoteActions []client.NoteAction `json:"noteActions"`
		KeyActions  []client.KeyAction  `json:"keyActions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.PushCount++

	var results []client.SyncResult
	for _, action := range payload.KeyActions {
		results = append(results, s.applyKeyAction(action))
	}
	for _, action := range payload.NoteActions {
		results = append(results, s.applyNoteAction(action))
	}

	writeJSON(w, client.PushChangesResp{Results: results})
}

func (s *FakeServer) applyKeyAction(action client.KeyAction) client.SyncResult {
	result := client.SyncResult{ItemType: "key", Action: action.Action, ID: action.Name}
	if s.FailIDs[action.Name] {
		return result
	}

	s.keyCursor++
	switch action.Action {
	case client.ActionDelete:
		if k := s.keys[action.Name]; k != nil {
			k.Deleted = true
			k.Sync = s.keyCursor
		}
	default:
		s.keys[action.Name] = &client.SyncKey{
			Name:          action.Name,
			ID:            action.ID,
			Algorithm:     action.Algorithm,
			KeyData:       action.KeyData,
			AsymAlgorithm: action.AsymAlgorithm,
			PublicKey:     action.PublicKey,
			PrivateKey:    action.PrivateKey,
			Metadata:      action.Metadata,
			Modified:      action.Modified,
			Sync:          s.keyCursor,
		}
	}

	result.Success = true
	result.Sync = s.keyCursor

	return result
}

func (s *FakeServer) applyNoteAction(action client.NoteAction) client.SyncResult {
	result := client.SyncResult{ItemType: "note", Action: action.Action, ID: action.ID}
	if s.FailIDs[action.ID] {
		return result
	}

	s.noteCursor++
	switch action.Action {
	case client.ActionDelete:
		if n := s.notes[action.ID]; n != nil {
			n.Deleted = true
			n.Items = nil
			n.Sync = s.noteCursor
		}
	case client.ActionCreate:
		note := client.SyncNote{
			ID:       action.ID,
			KeyName:  action.KeyName,
			Created:  action.Created,
			Modified: action.Modified,
			Sync:     s.noteCursor,
		}
		for _, item := range action.Items {
			version := item.Version
			if version == 0 {
				version = 1
			}
			note.Items = append(note.Items, client.SyncItem{Type: item.Type, Version: version, Data: item.Data})
		}
		s.notes[action.ID] = &note
	case client.ActionUpdate:
		note := s.notes[action.ID]
		if note == nil {
			s.noteCursor--
			return result
		}
		if action.KeyName != "" {
			note.KeyName = action.KeyName
		}
		note.Modified = action.Modified
		note.Sync = s.noteCursor
		for _, item := range action.Items {
			replaced := false
			for i := range note.Items {
				if note.Items[i].Type == item.Type {
					note.Items[i].Data = item.Data
					note.Items[i].Version = item.Version + 1
					replaced = true
					break
				}
			}
			if !replaced {
				note.Items = append(note.Items, client.SyncItem{Type: item.Type, Version: item.Version + 1, Data: item.Data})
			}
		}
	}

	result.Success = true
	result.Sync = s.noteCursor

	return result
}

func (s *FakeServer) handleUserData(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.UserData = payload.Data
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}
