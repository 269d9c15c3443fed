// Package manifest handles regvm.toml (or regvm.yaml) project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/chazu/regvm/pkg/bytecode"
)

// Manifest file names, in lookup order.
const (
	TOMLName = "regvm.toml"
	YAMLName = "regvm.yaml"
)

// DefaultMaxStack is the stack slot limit when none is configured.
const DefaultMaxStack = 1 << 16

// Manifest represents a regvm project configuration.
type Manifest struct {
	Project  Project        `toml:"project" yaml:"project"`
	VM       VMConfig       `toml:"vm" yaml:"vm"`
	Debugger DebuggerConfig `toml:"debugger" yaml:"debugger"`
	Journal  JournalConfig  `toml:"journal" yaml:"journal"`
	Natives  NativesConfig  `toml:"natives" yaml:"natives"`

	// Dir is the directory containing the manifest file (set at load time).
	Dir string `toml:"-" yaml:"-"`
	// Path is the manifest file that was read.
	Path string `toml:"-" yaml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`
}

// VMConfig configures threads.
type VMConfig struct {
	Arch     string `toml:"arch" yaml:"arch"`
	MaxStack int    `toml:"max-stack" yaml:"max-stack"`
	Trace    bool   `toml:"trace" yaml:"trace"`
}

// DebuggerConfig configures debugger output.
type DebuggerConfig struct {
	Output string `toml:"output" yaml:"output"` // plain or json
	Color  string `toml:"color" yaml:"color"`   // auto, always or never
}

// JournalConfig configures the run journal.
type JournalConfig struct {
	Path    string `toml:"path" yaml:"path"`
	Enabled bool   `toml:"enabled" yaml:"enabled"`
}

// NativesConfig lists the native functions programs may call. An empty
// list allows every registered native.
type NativesConfig struct {
	Enabled []string `toml:"enabled" yaml:"enabled"`
}

// Default returns the configuration used when no manifest exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.Arch == "" {
		m.VM.Arch = bytecode.Arch64.String()
	}
	if m.VM.MaxStack == 0 {
		m.VM.MaxStack = DefaultMaxStack
	}
	if m.Debugger.Output == "" {
		m.Debugger.Output = "plain"
	}
	if m.Debugger.Color == "" {
		m.Debugger.Color = "auto"
	}
	if m.Journal.Path == "" {
		m.Journal.Path = filepath.Join(".regvm", "journal.db")
	}
}

func (m *Manifest) validate() error {
	if _, err := m.Arch(); err != nil {
		return err
	}
	if m.VM.MaxStack < 0 {
		return fmt.Errorf("vm.max-stack must not be negative, got %d", m.VM.MaxStack)
	}
	switch m.Debugger.Output {
	case "plain", "json":
	default:
		return fmt.Errorf("debugger.output must be plain or json, got %q", m.Debugger.Output)
	}
	switch m.Debugger.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("debugger.color must be auto, always or never, got %q", m.Debugger.Color)
	}
	return nil
}

// Load parses regvm.toml, or regvm.yaml when there is no TOML file, from
// the given directory.
func Load(dir string) (*Manifest, error) {
	var m Manifest
	path := filepath.Join(dir, TOMLName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		path = filepath.Join(dir, YAMLName)
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.Path = path

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a manifest file, then loads
// and returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range []string{TOMLName, YAMLName} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return Load(dir)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Arch returns the configured architecture.
func (m *Manifest) Arch() (bytecode.Arch, error) {
	return bytecode.ParseArch(m.VM.Arch)
}

// JournalPath returns the journal database path, resolved against the
// manifest directory.
func (m *Manifest) JournalPath() string {
	if filepath.IsAbs(m.Journal.Path) || m.Dir == "" {
		return m.Journal.Path
	}
	return filepath.Join(m.Dir, m.Journal.Path)
}
