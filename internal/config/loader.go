package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the directory name under ~/.config
	ConfigDir = "dark-sun-assistant"
	// ConfigFile is the config file name
	ConfigFile = "config.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// FileSystem abstracts file operations for testability
type FileSystem interface {
	UserHomeDir() (string, error)
	ReadFile(path string) ([]byte, error)
}

// ConfigFileReader implements FileSystem using the real OS for config loading
type ConfigFileReader struct{}

func (ConfigFileReader) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

func (ConfigFileReader) ReadFile(path string) ([]byte, error) {
	// #nosec G304 -- path comes from the operator (flag, env or home dir)
	return os.ReadFile(path)
}

// Loader handles configuration loading with injected dependencies
type Loader struct {
	fs     FileSystem
	getenv func(string) string
}

// NewLoader creates a production Loader using the real filesystem and environment
func NewLoader() *Loader {
	return &Loader{fs: ConfigFileReader{}, getenv: os.Getenv}
}

// NewLoaderWithFS creates a Loader with a custom filesystem and environment (for testing)
func NewLoaderWithFS(fs FileSystem, getenv func(string) string) *Loader {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return &Loader{fs: fs, getenv: getenv}
}

// Load reads configuration from path, or from ~/.config/dark-sun-assistant/config.yaml
// when path is empty, and merges it with defaults. Environment overrides are applied last.
// A missing default file is not an error; a missing explicit path is.
//
// NOTE: YAML is decoded directly over the default configuration, so present keys
// overwrite defaults (even with zero values) and missing keys leave defaults untouched.
// ${VAR} references in the file are expanded from the environment before parsing.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		homeDir, err := l.fs.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".config", ConfigDir, ConfigFile)
		}
	}

	if path != "" {
		data, err := l.fs.ReadFile(path)
		switch {
		case err == nil:
			expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
				return l.getenv(match[2 : len(match)-1])
			})
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// defaults only
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if key := strings.TrimSpace(l.getenv("GEMINI_API_KEY")); key != "" {
		cfg.Model.APIKey = key
	}
	if port := strings.TrimSpace(l.getenv("PORT")); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if addr := strings.TrimSpace(l.getenv("ORACLE_HTTP_ADDR")); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := strings.TrimSpace(l.getenv("ORACLE_LOG_LEVEL")); level != "" {
		cfg.Log.Level = level
	}
	if format := strings.TrimSpace(l.getenv("ORACLE_LOG_FORMAT")); format != "" {
		cfg.Log.Format = format
	}
}

// Load is a convenience function using the default loader
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}
