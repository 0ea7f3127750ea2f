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

package login

import (
	"fmt"
	"net/url"

	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/session"
	"github.com/notevault/notevault/pkg/cli/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
  notevault login`

var apiEndpointFlag string

// NewCmd returns a new login command
func NewCmd(ctx context.NotevaultCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Login to the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&apiEndpointFlag, "apiEndpoint", "", "API endpoint to connect to (defaults to value in config)")

	return cmd
}

// getServerDisplayURL derives the user-facing URL of the server from the
// configured API endpoint
func getServerDisplayURL(apiEndpoint string) string {
	u, err := url.Parse(apiEndpoint)
	if err != nil {
		return ""
	}
	if u.Scheme == "" || u.Host == "" {
		return ""
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// Do prompts for credentials, establishes a session and persists it
func Do(ctx context.NotevaultCtx) error {
	var username, password string
	if err := ui.PromptInput("username", &username); err != nil {
		return errors.Wrap(err, "getting username")
	}
	if username == "" {
		return errors.New("username is empty")
	}
	if err := ui.PromptPassword("password", &password); err != nil {
		return errors.Wrap(err, "getting password")
	}

	s, err := session.Login(ctx, username, password)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.PersistLogin(); err != nil {
		return errors.Wrap(err, "persisting login")
	}

	return nil
}

func newRun(ctx context.NotevaultCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if apiEndpointFlag != "" {
			ctx.APIEndpoint = apiEndpointFlag
		}

		if displayURL := getServerDisplayURL(ctx.APIEndpoint); displayURL != "" {
			log.Infof("logging in to %s\n", displayURL)
		}

		err := Do(ctx)
		if errors.Cause(err) == client.ErrInvalidLogin {
			log.Error("wrong username and password combination\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "logging in")
		}

		log.Success("logged in\n")

		return nil
	}
}
