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

package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// DefaultSection is used when a reference names no section.
const DefaultSection = "main"

// Document is a parsed application configuration file.
//
//	[server.main]
//	use = "exec"
//	host = "127.0.0.1"
//	port = 8080
//
//	[app.main]
//	command = ["./bin/web", "--listen", "${host}:${port}"]
//	watch = ["templates/**/*.html"]
type Document struct {
	Server map[string]ServerConfig `yaml:"server" toml:"server"`
	App    map[string]AppConfig    `yaml:"app" toml:"app"`

	path string
}

// Path returns the absolute path the document was read from.
func (d *Document) Path() string {
	return d.path
}

// ServerConfig is a [server.<name>] section.
type ServerConfig struct {
	Use             string   `yaml:"use" toml:"use"`
	Host            string   `yaml:"host" toml:"host"`
	Port            int      `yaml:"port" toml:"port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// AppConfig is an [app.<name>] section.
type AppConfig struct {
	Command []string          `yaml:"command" toml:"command"`
	Dir     string            `yaml:"dir" toml:"dir"`
	Env     map[string]string `yaml:"env" toml:"env"`
	Watch   []string          `yaml:"watch" toml:"watch"`
	Setup   []string          `yaml:"setup" toml:"setup"`
}

// Duration accepts Go duration strings ("10s") or integer seconds.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML strings.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// UnmarshalTOML accepts integers as well as strings.
func (d *Duration) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case int64:
		d.Duration = time.Duration(val) * time.Second
		return nil
	case string:
		return d.parse(val)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	if dur, err := time.ParseDuration(s); err == nil {
		d.Duration = dur
		return nil
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err == nil && fmt.Sprint(secs) == s {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	return fmt.Errorf("invalid duration %q", s)
}

// ReadDocument parses path as YAML (.yaml, .yml) or TOML (.toml, .ini).
func ReadDocument(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	doc := &Document{path: abs}
	switch ext := strings.ToLower(filepath.Ext(abs)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, &gearboxerrors.ConfigError{Reason: "invalid YAML: " + err.Error(), Cause: err}
		}
	case ".toml", ".ini":
		md, err := toml.Decode(string(data), doc)
		if err != nil {
			return nil, &gearboxerrors.ConfigError{Reason: "invalid TOML: " + err.Error(), Cause: err}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, &gearboxerrors.ConfigError{
				Key:    undecoded[0].String(),
				Reason: "unknown key",
			}
		}
	default:
		return nil, &gearboxerrors.ConfigError{Reason: fmt.Sprintf("unsupported config extension %q", ext)}
	}

	return doc, nil
}
