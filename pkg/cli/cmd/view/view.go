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

package view

import (
	"github.com/notevault/notevault/pkg/cli/cmd/cat"
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/output"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * List notes
 notevault view

 * View a note
 notevault view 3c95bd40-4f6a-44c4-9c53-2fbae3995b42`

// NewCmd returns a new view command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "view [note id]",
		Aliases: []string{"v"},
		Short:   "List notes or view a note",
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

func newRun(ctx context.NotevaultCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			run := cat.NewRun(ctx, false)
			return run(cmd, args)
		}
		if len(args) != 0 {
			return errors.New("Incorrect number of arguments")
		}

		s, err := session.Resume(ctx)
		if errors.Cause(err) == session.ErrNoPersistedLogin {
			log.Error("not logged in. please run `notevault login`\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "resuming session")
		}
		defer s.Close()

		return listNotes(s)
	}
}

// listNotes prints a one line summary of every note under the root note
func listNotes(s *session.Session) error {
	var rootID string
	if err := database.GetSystem(s.DB, consts.SystemRootNote, &rootID); err != nil {
		return errors.Wrap(err, "getting root note id")
	}

	root, err := s.Notes.ReadNote(rootID)
	if err != nil {
		return errors.Wrap(err, "reading root note")
	}
	if root == nil {
		return errors.New("root note is missing")
	}

	for _, id := range root.ChildIDs() {
		note, err := s.Notes.ReadNote(id)
		if err != nil {
			return errors.Wrapf(err, "reading note %s", id)
		}
		if note == nil {
			continue
		}

		output.NoteSummary(*note)
	}

	return nil
}
