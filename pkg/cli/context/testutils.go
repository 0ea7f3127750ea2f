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

package context

import (
	"testing"

	"github.com/notevault/notevault/pkg/clock"
	"github.com/pkg/errors"
)

// InitTestCtx initializes a test context with a temporary directory for
// all paths and a mock clock
func InitTestCtx(t *testing.T) NotevaultCtx {
	tmpDir := t.TempDir()
	paths := Paths{
		Home:   tmpDir,
		Cache:  tmpDir,
		Config: tmpDir,
		Data:   tmpDir,
	}

	if err := InitDirs(paths); err != nil {
		t.Fatal(errors.Wrap(err, "creating test directories"))
	}

	return NotevaultCtx{
		Paths: paths,
		Clock: clock.NewMock(), // Use a mock clock to test times
	}
}
