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

package infra

import (
	"fmt"
	"testing"

	"github.com/notevault/notevault/pkg/assert"
	"github.com/notevault/notevault/pkg/cli/config"
	"github.com/notevault/notevault/pkg/dirs"
	"github.com/pkg/errors"
)

func setTestDirs(t *testing.T) {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", fmt.Sprintf("%s/config", tmpDir))
	t.Setenv("XDG_DATA_HOME", fmt.Sprintf("%s/data", tmpDir))
	t.Setenv("XDG_CACHE_HOME", fmt.Sprintf("%s/cache", tmpDir))
	dirs.Reload()
	t.Cleanup(dirs.Reload)
}

func TestInit(t *testing.T) {
	setTestDirs(t)

	ctx, err := Init("test-version", "")
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing"))
	}

	assert.Equal(t, ctx.Version, "test-version", "version mismatch")
	assert.Equal(t, ctx.APIEndpoint, DefaultAPIEndpoint, "should fall back to the default API endpoint")
	if ctx.Clock == nil {
		t.Error("clock was not set up")
	}
	if ctx.HTTPClient == nil {
		t.Error("http client was not set up")
	}
}

func TestInit_APIEndpointChange(t *testing.T) {
	setTestDirs(t)

	// First init writes the config file.
	endpoint1 := "http://127.0.0.1:3001"
	ctx, err := Init("test-version", endpoint1)
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing"))
	}
	assert.Equal(t, ctx.APIEndpoint, endpoint1, "should use endpoint1 API endpoint")

	// A second init must not overwrite the existing config file.
	endpoint2 := "http://127.0.0.1:3002"
	ctx2, err := Init("test-version", endpoint2)
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing again"))
	}
	assert.Equal(t, ctx2.APIEndpoint, endpoint1, "existing config should win over the override")

	cf, err := config.Read(*ctx2)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading config"))
	}
	assert.Equal(t, cf.APIEndpoint, endpoint1, "config file endpoint mismatch")
}
