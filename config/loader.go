package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "negotiator.yaml"

// Loader assembles configuration from defaults, a YAML file and the
// environment, in that order of precedence.
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
}

// NewLoader creates a loader reading the process environment.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, getenv: os.Getenv}
}

// Load reads path, or DefaultConfigFile when path is empty and the file
// exists, applies environment overrides and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if fileCfg, err := LoadFromFile(path); err == nil {
		l.logger.Debug("Loaded config file", slog.String("path", path))
		cfg = fileCfg
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	} else {
		l.logger.Debug("No config file found, using defaults")
	}

	if err := cfg.ApplyEnv(l.getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
