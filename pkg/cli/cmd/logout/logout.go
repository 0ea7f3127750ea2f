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

package logout

import (
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
  notevault logout`

var apiEndpointFlag string

// NewCmd returns a new logout command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logout",
		Short:   "Logout from the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&apiEndpointFlag, "apiEndpoint", "", "API endpoint to connect to (defaults to value in config)")

	return cmd
}

// Do ends the server session and removes the persisted login
func Do(ctx context.NotevaultCtx) error {
	s, err := session.Resume(ctx)
	if err != nil {
		return err
	}

	return s.Logout()
}

func newRun(ctx context.NotevaultCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if apiEndpointFlag != "" {
			ctx.APIEndpoint = apiEndpointFlag
		}

		err := Do(ctx)
		if errors.Cause(err) == session.ErrNoPersistedLogin {
			log.Error("not logged in\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "logging out")
		}

		log.Success("logged out\n")

		return nil
	}
}
