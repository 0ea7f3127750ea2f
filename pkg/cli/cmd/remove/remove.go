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

package remove

import (
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/notevault/notevault/pkg/cli/sync"
	"github.com/notevault/notevault/pkg/cli/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * Remove a note
 notevault remove 3c95bd40-4f6a-44c4-9c53-2fbae3995b42`

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of arguments")
	}

	return nil
}

// NewCmd returns a new remove command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <note id>",
		Aliases: []string{"rm", "d"},
		Short:   "Remove a note",
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	return cmd
}

func newRun(ctx context.NotevaultCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		noteID := args[0]

		s, err := session.Resume(ctx)
		if errors.Cause(err) == session.ErrNoPersistedLogin {
			log.Error("not logged in. please run `notevault login`\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "resuming session")
		}
		defer s.Close()

		note, err := s.Notes.ReadNote(noteID)
		if err != nil {
			return errors.Wrap(err, "reading note")
		}
		if note == nil {
			return errors.Errorf("note %s not found", noteID)
		}

		ok, err := ui.Confirm("remove this note?", false)
		if err != nil {
			return errors.Wrap(err, "getting confirmation")
		}
		if !ok {
			log.Warnf("aborted by user\n")
			return nil
		}

		if err := removeNote(s, noteID); err != nil {
			return errors.Wrap(err, "removing note")
		}

		log.Successf("removed %s\n", note.Title())

		if err := s.Engine.Sync(); err != nil {
			log.Warnf("removed locally but could not sync: %s\n", err)
		}

		return nil
	}
}

// removeNote deletes the note and detaches it from the root note in one batch
func removeNote(s *session.Session, noteID string) error {
	var rootID string
	if err := database.GetSystem(s.DB, consts.SystemRootNote, &rootID); err != nil {
		return errors.Wrap(err, "getting root note id")
	}

	actions := []sync.Action{
		{Kind: sync.ActionKindDelete, Note: notes.Note{ID: noteID}},
	}

	parent, err := s.Notes.ReadNote(rootID)
	if err != nil {
		return errors.Wrap(err, "reading root note")
	}
	if parent != nil {
		parent.RemoveChild(noteID)
		actions = append(actions, sync.Action{
			Kind: sync.ActionKindUpdate,
			Note: notes.Note{
				ID:    parent.ID,
				Items: []notes.Item{*parent.Item(consts.ItemTypeMetadata)},
			},
		})
	}

	_, err = s.Engine.MultiAction(actions)

	return err
}
