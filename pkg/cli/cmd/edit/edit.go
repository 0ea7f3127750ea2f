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

package edit

import (
	"os"
	"time"

	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/notes"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/notevault/notevault/pkg/cli/sync"
	"github.com/notevault/notevault/pkg/cli/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var contentFlag string
var titleFlag string

var example = `
 * Open an editor to edit the content of a note
 notevault edit 3c95bd40-4f6a-44c4-9c53-2fbae3995b42

 * Skip the editor by providing new content directly
 notevault edit 3c95bd40-4f6a-44c4-9c53-2fbae3995b42 -c "new content"

 * Rename a note
 notevault edit 3c95bd40-4f6a-44c4-9c53-2fbae3995b42 --title "new title"`

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of arguments")
	}

	return nil
}

// NewCmd returns a new edit command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "edit <note id>",
		Short:   "Edit a note",
		Aliases: []string{"e"},
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&contentFlag, "content", "c", "", "The new content for the note")
	f.StringVar(&titleFlag, "title", "", "The new title for the note")

	return cmd
}

func getContent(ctx context.NotevaultCtx, current string) (string, error) {
	if contentFlag != "" {
		return contentFlag, nil
	}

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
	if err := os.WriteFile(fpath, []byte(current), 0644); err != nil {
		return "", errors.Wrap(err, "preparing the content file")
	}

	c, err := ui.GetEditorInput(fpath)
	if err != nil {
		return "", errors.Wrap(err, "Failed to get editor input")
	}

	return c, nil
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

		items, err := buildItems(ctx, s, note)
		if err != nil {
			return err
		}

		_, err = s.Engine.MultiAction([]sync.Action{
			{Kind: sync.ActionKindUpdate, Note: notes.Note{ID: noteID, Items: items}},
		})
		if err != nil {
			return errors.Wrap(err, "updating note")
		}

		log.Success("edited the note\n")

		if err := s.Engine.Sync(); err != nil {
			log.Warnf("saved locally but could not sync: %s\n", err)
		}

		return nil
	}
}

// buildItems assembles the changed items: the new text, a history entry
// recording it, and the retitled metadata when --title was given
func buildItems(ctx context.NotevaultCtx, s *session.Session, note *notes.Note) ([]notes.Item, error) {
	var items []notes.Item

	if titleFlag == "" || contentFlag != "" {
		content, err := getContent(ctx, note.Text())
		if err != nil {
			return nil, errors.Wrap(err, "getting content")
		}
		if content == "" {
			return nil, errors.New("Empty content")
		}

		textItem := notes.Item{
			Type: consts.ItemTypeText,
			Data: map[string]interface{}{"text": content},
		}
		if existing := note.Item(consts.ItemTypeText); existing != nil {
			textItem.Version = existing.Version
		}
		items = append(items, textItem, historyItem(ctx, s, note, content))
	}

	if titleFlag != "" {
		metadata := note.Item(consts.ItemTypeMetadata)
		if metadata == nil {
			metadata = &notes.Item{
				Type: consts.ItemTypeMetadata,
				Data: map[string]interface{}{"notes": []interface{}{}},
			}
		}
		metadata.Data["title"] = titleFlag
		items = append(items, *metadata)
	}

	return items, nil
}

func historyItem(ctx context.NotevaultCtx, s *session.Session, note *notes.Note, content string) notes.Item {
	item := note.Item(consts.ItemTypeHistory)
	if item == nil {
		item = &notes.Item{
			Type: consts.ItemTypeHistory,
			Data: map[string]interface{}{"active": []interface{}{}},
		}
	}

	active, _ := item.Data["active"].([]interface{})
	item.Data["active"] = append(active, map[string]interface{}{
		"timestamp": ctx.Clock.Now().UTC().Format(time.RFC3339),
		"username":  s.Username,
		"text":      content,
	})

	return *item
}
