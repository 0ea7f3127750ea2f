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

package add

import (
	"os"

	"github.com/google/uuid"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/notevault/notevault/pkg/cli/output"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/notevault/notevault/pkg/cli/sync"
	"github.com/notevault/notevault/pkg/cli/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var contentFlag string

var example = `
 * Open an editor to write content
 notevault add git

 * Skip the editor by providing content directly
 notevault add git -c "time is a part of the commit hash"

 * Send stdin content to a note
 echo "a branch is just a pointer to a commit" | notevault add git
 # or
 notevault add git << EOF
 pull is fetch with a merge
 EOF`

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}

// NewCmd returns a new add command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add <title>",
		Short:   "Add a new note",
		Aliases: []string{"a", "n", "new"},
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&contentFlag, "content", "c", "", "The new content for the note")

	return cmd
}

func getContent(ctx context.NotevaultCtx) (string, error) {
	if contentFlag != "" {
		return contentFlag, nil
	}

	// check for piped content
	fInfo, _ := os.Stdin.Stat()
	if fInfo.Mode()&os.ModeCharDevice == 0 {
		c, err := ui.ReadStdInput()
		if err != nil {
			return "", errors.Wrap(err, "Failed to get piped input")
		}
		return c, nil
	}

	fpath, err := ui.GetTmpContentPath(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting temporarily content file path")
	}

	c, err := ui.GetEditorInput(fpath)
	if err != nil {
		return "", errors.Wrap(err, "Failed to get editor input")
	}

	return c, nil
}

func newRun(ctx context.NotevaultCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		title := args[0]

		content, err := getContent(ctx)
		if err != nil {
			return errors.Wrap(err, "getting content")
		}
		if content == "" {
			return errors.New("Empty content")
		}

		s, err := session.Resume(ctx)
		if errors.Cause(err) == session.ErrNoPersistedLogin {
			log.Error("not logged in. please run `notevault login`\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "resuming session")
		}
		defer s.Close()

		note, err := writeNote(s, title, content)
		if err != nil {
			return errors.Wrap(err, "Failed to write note")
		}

		log.Successf("added %s\n", title)
		output.NoteInfo(*note)

		if err := s.Engine.Sync(); err != nil {
			log.Warnf("saved locally but could not sync: %s\n", err)
		}

		return nil
	}
}

// writeNote creates the note and attaches it to the root note in one batch
func writeNote(s *session.Session, title, content string) (*notes.Note, error) {
	var rootID string
	if err := database.GetSystem(s.DB, consts.SystemRootNote, &rootID); err != nil {
		return nil, errors.Wrap(err, "getting root note id")
	}

	parent, err := s.Notes.ReadNote(rootID)
	if err != nil {
		return nil, errors.Wrap(err, "reading root note")
	}
	if parent == nil {
		return nil, errors.New("root note is missing")
	}

	note := notes.Note{
		ID:      uuid.NewString(),
		KeyName: parent.KeyName,
		Items: []notes.Item{
			{Type: consts.ItemTypeMetadata, Data: map[string]interface{}{
				"title": title,
				"notes": []interface{}{},
			}},
			{Type: consts.ItemTypeText, Data: map[string]interface{}{
				"text": content,
			}},
		},
	}

	parent.AddChild(note.ID)

	_, err = s.Engine.MultiAction([]sync.Action{
		{Kind: sync.ActionKindCreate, Note: note},
		{Kind: sync.ActionKindUpdate, Note: notes.Note{
			ID:    parent.ID,
			Items: []notes.Item{*parent.Item(consts.ItemTypeMetadata)},
		}},
	})
	if err != nil {
		return nil, err
	}

	created, err := s.Notes.ReadNote(note.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reading the new note")
	}

	return created, nil
}
