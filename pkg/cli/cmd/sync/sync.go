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

package sync

import (
	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/database"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var fullFlag bool

var example = `
  notevault sync`

// NewCmd returns a new sync command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "Sync notes with the server",
		Aliases: []string{"s"},
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.BoolVarP(&fullFlag, "full", "f", false, "re-pull everything from the beginning")

	return cmd
}

func newRun(ctx context.NotevaultCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		s, err := session.Resume(ctx)
		if errors.Cause(err) == session.ErrNoPersistedLogin {
			log.Error("not logged in. please run `notevault login`\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "resuming session")
		}
		defer s.Close()

		if fullFlag {
			if err := database.DeleteSystem(s.DB, consts.SystemLastNoteSync); err != nil {
				return errors.Wrap(err, "resetting note cursor")
			}
			if err := database.DeleteSystem(s.DB, consts.SystemLastKeySync); err != nil {
				return errors.Wrap(err, "resetting key cursor")
			}
		}

		log.Infof("syncing with the server\n")

		if err := s.Engine.Sync(); err != nil {
			return errors.Wrap(err, "syncing")
		}

		log.Success("success\n")

		return nil
	}
}
