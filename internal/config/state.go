package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const StateFileName = "state.yaml"

// State is the monitor session persisted across restarts so a running
// monitor resumes with the same interval.
type State struct {
	Monitor MonitorState `yaml:"monitor"`
}

type MonitorState struct {
	Running   bool          `yaml:"running"`
	Interval  time.Duration `yaml:"interval"`
	UpdatedAt time.Time     `yaml:"updated_at"`
}

func StatePath(dir string) string {
	return filepath.Join(dir, StateFileName)
}

// LoadState reads the state file in dir. A missing file returns an error
// wrapping fs.ErrNotExist.
func LoadState(ctx context.Context, dir string) (State, error) {
	var state State
	path := StatePath(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("read state file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse state file %q: %w", path, err)
	}

	return state, nil
}

// SaveState replaces the state file in dir.
func SaveState(ctx context.Context, dir string, state State) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure state dir %q: %w", dir, err)
	}

	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return WriteFileAtomic(StatePath(dir), data)
}
