// Package config loads the engine's runtime configuration (spec §6.4):
// data root, index path, log level, connection pool bounds, and request
// deadline, from a JSONC file via the same defaults → global → project →
// CLI-override precedence chain the teacher's root config.go uses for its
// own ticket store configuration. An explicit config path takes the place
// of the project file rather than adding a layer after it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds every runtime-tunable option of the engine (spec §6.4).
type Config struct {
	DataRoot          string `json:"data_root"`
	IndexPath         string `json:"index_path"`
	LogLevel          string `json:"log_level,omitempty"`
	ConnectionPoolMin int    `json:"connection_pool_min,omitempty"`
	ConnectionPoolMax int    `json:"connection_pool_max,omitempty"`
	BusyTimeoutMS     int    `json:"busy_timeout_ms,omitempty"`
	RequestDeadlineMS int    `json:"request_deadline_ms,omitempty"`
}

// Sources tracks which config files were loaded, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// FileName is the default project config file name.
const FileName = ".kb.json"

var (
	errConfigFileNotFound = errors.New("config: file not found")
	errConfigFileRead     = errors.New("config: could not read file")
	errConfigInvalid      = errors.New("config: invalid")
	errDataRootEmpty      = errors.New("config: data_root must not be empty")
)

// Default returns the baseline configuration before any file or override is
// applied.
func Default() Config {
	return Config{
		DataRoot:          ".kb",
		IndexPath:         ".kb/search.db",
		LogLevel:          "info",
		ConnectionPoolMin: 1,
		ConnectionPoolMax: 1,
		BusyTimeoutMS:     10000,
		RequestDeadlineMS: 30000,
	}
}

func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "kb", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "kb", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "kb", "config.json")
	}

	return ""
}

// Load resolves configuration with the following precedence (highest
// wins): defaults, global user config, project config (.kb.json or an
// explicit configPath), then CLI overrides supplied by the caller.
func Load(workDir, configPath string, overrides Config, env []string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalCfg, globalPath, err := loadGlobal(env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, overrides)

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadGlobal(env []string) (Config, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	var path string

	var mustExist bool

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		if _, err := os.Stat(path); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
		mustExist = false
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally caller-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataRoot != "" {
		base.DataRoot = overlay.DataRoot
	}

	if overlay.IndexPath != "" {
		base.IndexPath = overlay.IndexPath
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.ConnectionPoolMin != 0 {
		base.ConnectionPoolMin = overlay.ConnectionPoolMin
	}

	if overlay.ConnectionPoolMax != 0 {
		base.ConnectionPoolMax = overlay.ConnectionPoolMax
	}

	if overlay.BusyTimeoutMS != 0 {
		base.BusyTimeoutMS = overlay.BusyTimeoutMS
	}

	if overlay.RequestDeadlineMS != 0 {
		base.RequestDeadlineMS = overlay.RequestDeadlineMS
	}

	return base
}

func validate(cfg Config) error {
	if cfg.DataRoot == "" {
		return errDataRootEmpty
	}

	if cfg.ConnectionPoolMin > cfg.ConnectionPoolMax {
		return fmt.Errorf("%w: connection_pool_min (%d) exceeds connection_pool_max (%d)",
			errConfigInvalid, cfg.ConnectionPoolMin, cfg.ConnectionPoolMax)
	}

	return nil
}

// Format returns cfg as formatted JSON, for diagnostics.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
