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

// Package consts provides definitions of constants
package consts

var (
	// NotevaultDirName is the name of the directory containing notevault files
	NotevaultDirName = "notevault"
	// ConfigFilename is the name of the config file
	ConfigFilename = "notevaultrc"
	// SessionFilename is the name of the persisted login file
	SessionFilename = "session"
	// TmpContentFileBase is the base name for temporary content files
	TmpContentFileBase = "NOTEVAULT_TMPCONTENT"
	// TmpContentFileExt is the extension for temporary content files
	TmpContentFileExt = "md"

	// SystemLastNoteSync is the note cursor confirmed by the server at the last pull
	SystemLastNoteSync = "last_note_sync"
	// SystemLastKeySync is the key cursor confirmed by the server at the last pull
	SystemLastKeySync = "last_key_sync"
	// SystemUserID is the id of the account the store belongs to
	SystemUserID = "user_id"
	// SystemUsername is the username the store belongs to
	SystemUsername = "username"
	// SystemLastSyncAt is the local timestamp of the last completed sync cycle
	SystemLastSyncAt = "last_sync_time"
	// SystemLocalCrypt is the device-local key wrapped under the root key
	SystemLocalCrypt = "local_crypt"
	// SystemRootNote is the id of the account's root note
	SystemRootNote = "root_note"
)

var (
	// ItemTypeText is the note item carrying the note body
	ItemTypeText = "text"
	// ItemTypeHistory is the note item carrying past versions of the body
	ItemTypeHistory = "history"
	// ItemTypeMetadata is the note item carrying the title and child references
	ItemTypeMetadata = "metadata"
)
