package commands

import (
	"os"
	"path/filepath"

	"github.com/colonyops/relay/internal/core/config"
	"github.com/colonyops/relay/internal/core/engine"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/data/stores"
)

// Flags holds global CLI flags plus the collaborators wired up in the
// Before hook, shared by all commands.
type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Engine executes task requests
	Engine *engine.Engine

	// Checkpoints is the active checkpoint store
	Checkpoints task.CheckpointStore

	// Usage is the SQLite usage store; nil when running on the file backend
	Usage *stores.UsageStore
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "relay", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "relay")
}
