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

package main

import (
	"os"

	"github.com/notevault/notevault/pkg/cli/infra"
	"github.com/notevault/notevault/pkg/cli/log"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"

	// commands
	"github.com/notevault/notevault/pkg/cli/cmd/add"
	"github.com/notevault/notevault/pkg/cli/cmd/cat"
	"github.com/notevault/notevault/pkg/cli/cmd/edit"
	"github.com/notevault/notevault/pkg/cli/cmd/login"
	"github.com/notevault/notevault/pkg/cli/cmd/logout"
	"github.com/notevault/notevault/pkg/cli/cmd/remove"
	"github.com/notevault/notevault/pkg/cli/cmd/root"
	"github.com/notevault/notevault/pkg/cli/cmd/sync"
	"github.com/notevault/notevault/pkg/cli/cmd/version"
	"github.com/notevault/notevault/pkg/cli/cmd/view"
)

// apiEndpoint and versionTag are populated during link time
var apiEndpoint string
var versionTag = "master"

func main() {
	ctx, err := infra.Init(versionTag, apiEndpoint)
	if err != nil {
		panic(errors.Wrap(err, "initializing context"))
	}

	root.Register(login.NewCmd(*ctx))
	root.Register(logout.NewCmd(*ctx))
	root.Register(add.NewCmd(*ctx))
	root.Register(edit.NewCmd(*ctx))
	root.Register(remove.NewCmd(*ctx))
	root.Register(sync.NewCmd(*ctx))
	root.Register(version.NewCmd(*ctx))
	root.Register(cat.NewCmd(*ctx))
	root.Register(view.NewCmd(*ctx))

	if err := root.Execute(); err != nil {
		log.Errorf("%s\n", err.Error())
		os.Exit(1)
	}
}
