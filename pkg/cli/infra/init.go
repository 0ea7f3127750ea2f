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

// Package infra provides operations and definitions for the
// local infrastructure for Notevault
package infra

import (
	"github.com/notevault/notevault/pkg/cli/client"
	"github.com/notevault/notevault/pkg/cli/config"
	"github.com/notevault/notevault/pkg/cli/context"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/notevault/notevault/pkg/cli/utils"
	"github.com/notevault/notevault/pkg/clock"
	"github.com/notevault/notevault/pkg/dirs"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	// DefaultAPIEndpoint is the default API endpoint used when none is configured
	DefaultAPIEndpoint = "http://localhost:3001/api"
)

// RunEFunc is a function type of notevault commands
type RunEFunc func(*cobra.Command, []string) error

// newBaseCtx creates a minimal context with paths. This base context is used
// for file initialization before being enriched with config values by
// setupCtx.
func newBaseCtx(versionTag string) context.NotevaultCtx {
	paths := context.Paths{
		Home:   dirs.Home,
		Config: dirs.ConfigHome,
		Data:   dirs.DataHome,
		Cache:  dirs.CacheHome,
	}

	return context.NotevaultCtx{
		Paths:   paths,
		Version: versionTag,
	}
}

// Init initializes the Notevault environment and returns a new context.
// apiEndpoint is used when creating a new config file (e.g., from ldflags during tests)
func Init(versionTag, apiEndpoint string) (*context.NotevaultCtx, error) {
	ctx := newBaseCtx(versionTag)

	if err := initFiles(ctx, apiEndpoint); err != nil {
		return nil, errors.Wrap(err, "initializing files")
	}

	ctx, err := setupCtx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "setting up the context")
	}

	log.Debug("context: %+v\n", context.Redact(ctx))

	return &ctx, nil
}

// setupCtx enriches the base context with values from the config file
func setupCtx(ctx context.NotevaultCtx) (context.NotevaultCtx, error) {
	cf, err := config.Read(ctx)
	if err != nil {
		return ctx, errors.Wrap(err, "reading config")
	}

	ret := context.NotevaultCtx{
		Paths:       ctx.Paths,
		Version:     ctx.Version,
		APIEndpoint: cf.APIEndpoint,
		Clock:       clock.New(),
		HTTPClient:  client.NewRateLimitedHTTPClient(),
	}

	return ret, nil
}

// initConfigFile populates a new config file if it does not exist yet
func initConfigFile(ctx context.NotevaultCtx, apiEndpoint string) error {
	path := config.GetPath(ctx)
	ok, err := utils.FileExists(path)
	if err != nil {
		return errors.Wrap(err, "checking if config exists")
	}
	if ok {
		return nil
	}

	// Use default API endpoint if none provided
	endpoint := apiEndpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}

	cf := config.Config{
		APIEndpoint: endpoint,
	}

	if err := config.Write(ctx, cf); err != nil {
		return errors.Wrap(err, "writing config")
	}

	return nil
}

// initFiles creates, if necessary, the notevault directories and files inside
func initFiles(ctx context.NotevaultCtx, apiEndpoint string) error {
	if err := context.InitDirs(ctx.Paths); err != nil {
		return errors.Wrap(err, "creating the notevault dir")
	}
	if err := initConfigFile(ctx, apiEndpoint); err != nil {
		return errors.Wrap(err, "generating the config file")
	}

	return nil
}
