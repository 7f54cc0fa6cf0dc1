// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package cli provides the root command for gearbox.

Cobra parses the global flags. The first remaining word starts the
command name, which is resolved against a registry of built-in and
project plugin commands, longest match first, by the dispatcher in
internal/command.

# Commands

	gearbox
	├── serve         Serve an application
	├── setup app     Run an application's setup command
	├── version       Show version
	└── help          Show help

Project commands declared in a gearbox.yaml above the working directory
are added to the same registry.

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	os.Exit(cli.Execute(ctx, os.Args[1:]))

# Global Flags

	--verbose, -v    Increase verbosity (repeatable)
	--quiet, -q      Only warnings and errors
	--log-file       Also log to this file, and send worker output there
	--debug          Log error chains and source locations
	--relative       Resolve plugin executables relative to the working directory
	--version        Show version
*/
package cli
