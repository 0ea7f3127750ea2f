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

// Package output provides functions to print informations on the terminal
// in a consistent manner
package output

import (
	"fmt"
	"time"

	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/notes"
)

func formatTime(val string) string {
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return val
	}

	return t.Format("Jan 2, 2006 3:04pm (MST)")
}

// NoteInfo prints a note with its metadata
func NoteInfo(note notes.Note) {
	log.Infof("title: %s\n", note.Title())
	if note.Created != "" {
		log.Infof("created at: %s\n", formatTime(note.Created))
	}
	if note.Modified != "" && note.Modified != note.Created {
		log.Infof("updated at: %s\n", formatTime(note.Modified))
	}
	log.Infof("note id: %s\n", note.ID)

	fmt.Printf("\n------------------------content------------------------\n")
	fmt.Printf("%s", note.Text())
	fmt.Printf("\n-------------------------------------------------------\n")
}

// NoteContent prints the note body only
func NoteContent(note notes.Note) {
	fmt.Printf("%s", note.Text())
}

// NoteSummary prints a one line summary of a note
func NoteSummary(note notes.Note) {
	fmt.Printf("%s  %s\n", note.ID, note.Title())
}
