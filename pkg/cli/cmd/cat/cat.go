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

package cat

import (
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/output"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * Print the content of a note
 notevault cat 3c95bd40-4f6a-44c4-9c53-2fbae3995b42
 `

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of arguments")
	}

	return nil
}

// NewCmd returns a new cat command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cat <note id>",
		Aliases: []string{"c"},
		Short:   "Print the content of a note",
		Example: example,
		RunE:    NewRun(ctx, true),
		PreRunE: preRun,
	}

	return cmd
}

// NewRun returns a new run function. contentOnly controls whether metadata
// is printed along with the content.
func NewRun(ctx context.NotevaultCtx, contentOnly bool) infra.RunEFunc {
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

		if contentOnly {
			output.NoteContent(*note)
		} else {
			output.NoteInfo(*note)
		}

		return nil
	}
}
