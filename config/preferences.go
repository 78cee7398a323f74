package config

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/shellmind/errors"
	"gopkg.in/yaml.v3"
)

const (
	ModeDefault = "default"
	ModeAgent   = "agent"
)

// Preferences is the only state ShellMind persists between runs.
type Preferences struct {
	Mode string `yaml:"mode"`

	path string
}

// DefaultPreferencesPath returns ~/.shellmind/preferences.yaml.
func DefaultPreferencesPath() (string, error) {
	return ExpandPath(filepath.Join("~", ".shellmind", "preferences.yaml"))
}

// LoadPreferences reads the preference file at path. A missing or unreadable
// file yields the default mode rather than an error.
func LoadPreferences(path string) *Preferences {
	prefs := &Preferences{Mode: ModeDefault, path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return prefs
	}
	var stored Preferences
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return prefs
	}
	if ValidMode(stored.Mode) {
		prefs.Mode = stored.Mode
	}
	return prefs
}

// SetMode validates and persists the mode.
func (p *Preferences) SetMode(mode string) error {
	if !ValidMode(mode) {
		return errors.New("invalid mode %q (expected default or agent)", mode)
	}
	p.Mode = mode
	return p.Save()
}

// Save writes the preferences to disk, creating the parent directory.
func (p *Preferences) Save() error {
	if p.path == "" {
		return errors.New("preferences have no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", filepath.Dir(p.path))
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize preferences")
	}
	return errors.Wrapf(os.WriteFile(p.path, data, 0o644), "could not write %s", p.path)
}

// AgentMode reports whether agent mode is the persisted default.
func (p *Preferences) AgentMode() bool { return p.Mode == ModeAgent }

func ValidMode(mode string) bool {
	return mode == ModeDefault || mode == ModeAgent
}
