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

package plugin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gearbox/internal/command"
	gearboxlog "github.com/tombee/gearbox/internal/log"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

func TestFind_WalksUp(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, ManifestName)
	require.NoError(t, os.WriteFile(manifest, []byte("commands: []\n"), 0644))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, ok := Find(nested)
	require.True(t, ok)
	assert.Equal(t, manifest, got)
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)

	require.NoError(t, os.WriteFile(path, []byte(`
commands:
  - name: setup_db
    description: Create the database
    exec: scripts/setup-db.sh
`), 0644))
	m, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Commands, 1)
	assert.Equal(t, "setup db", m.Commands[0].CommandName())
	assert.Equal(t, dir, m.Dir())

	require.NoError(t, os.WriteFile(path, []byte("commands:\n  - name: x\n"), 0644))
	_, err = ReadManifest(path)
	assert.ErrorContains(t, err, "commands[0].exec")
}

func TestDiscover_MalformedManifestIsIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte("commands: ["), 0644))

	reg := command.NewRegistry()
	assert.Nil(t, Discover(reg, dir, gearboxlog.Discard()))
	assert.Empty(t, reg.Names())
}

func TestPluginCommand_RunsExecutable(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, filepath.Join(dir, "bin", "greet"), `echo "hi $*"; exit 3`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(`
commands:
  - name: say_hi
    exec: bin/greet
    args: [--from, gearbox]
`), 0644))

	reg := command.NewRegistry()
	require.NotNil(t, Discover(reg, dir, gearboxlog.Discard()))

	var stdout bytes.Buffer
	app := command.NewApp("gearbox", reg, gearboxlog.Discard())
	app.Stdout = &stdout
	app.Stderr = &stdout

	code := command.NewDispatcher(app).Run(context.Background(), []string{"say", "hi", "--loud", "there"})

	assert.Equal(t, 3, code)
	assert.Equal(t, "hi --from gearbox --loud there\n", stdout.String())
}

func TestFactory_ResolvesLazily(t *testing.T) {
	f := &Factory{Entry: Entry{Name: "missing", Exec: "bin/missing"}, Root: t.TempDir()}
	reg := command.NewRegistry()
	reg.Register(f.Entry.CommandName(), f)

	// Registration never touches the filesystem.
	assert.Equal(t, []string{"missing"}, reg.Names())

	_, err := f.Load(command.NewApp("gearbox", reg, gearboxlog.Discard()))
	assert.ErrorContains(t, err, "does not exist")
}

func TestFactory_Relative(t *testing.T) {
	wd := t.TempDir()
	writeScript(t, filepath.Join(wd, "tools", "lint"), "exit 0")
	t.Chdir(wd)

	f := &Factory{Entry: Entry{Name: "lint", Exec: "tools/lint"}, Root: t.TempDir()}
	app := command.NewApp("gearbox", command.NewRegistry(), gearboxlog.Discard())

	_, err := f.Load(app)
	require.Error(t, err)

	app.Options.Relative = true
	cmd, err := f.Load(app)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "tools", "lint"), cmd.(*Command).Path())
}

func TestFactory_LooksUpPath(t *testing.T) {
	f := &Factory{Entry: Entry{Name: "sh", Exec: "sh"}}
	cmd, err := f.Load(command.NewApp("gearbox", command.NewRegistry(), gearboxlog.Discard()))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cmd.(*Command).Path()))
	assert.Equal(t, "Run sh", cmd.Describe())
}
