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

package setupapp

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

func setup(t *testing.T) (*command.Dispatcher, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "development.ini"), []byte(`
[app.main]
command = ["true"]
setup = ["sh", "-c", "echo main > ${here}/done"]

[app.admin]
command = ["true"]
setup = ["sh", "-c", "echo admin > ${here}/done"]

[app.bare]
command = ["true"]
`), 0644))
	t.Chdir(dir)

	reg := command.NewRegistry()
	reg.Register("setup app", Factory())

	var out bytes.Buffer
	app := command.NewApp("gearbox", reg, gearboxlog.Discard())
	app.Stdout = &out
	app.Stderr = &out
	return command.NewDispatcher(app), &out, dir
}

func TestSetupApp_Sections(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want string
	}{
		{name: "default", argv: []string{"setup", "app"}, want: "main\n"},
		{name: "hash section", argv: []string{"setup", "app", "development.ini#admin"}, want: "admin\n"},
		{name: "name flag wins", argv: []string{"setup", "app", "--name", "admin", "development.ini#main"}, want: "admin\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, dir := setup(t)

			code := d.Run(context.Background(), tt.argv)
			require.Equal(t, 0, code)

			data, err := os.ReadFile(filepath.Join(dir, "done"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestSetupApp_NoSetupCommand(t *testing.T) {
	d, out, _ := setup(t)

	code := d.Run(context.Background(), []string{"setup", "app", "--name", "bare"})

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "No setup command in [app.bare]")
}

func TestSetupApp_LoadError(t *testing.T) {
	d, out, _ := setup(t)

	code := d.Run(context.Background(), []string{"setup", "app", "missing.ini"})

	assert.Equal(t, 4, code)
	assert.Contains(t, out.String(), "failed to load application or server from missing.ini#main")
}
