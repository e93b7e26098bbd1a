// Package config loads jsonsql CLI configuration from JSONC files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tailscale/hujson"
)

var (
	ErrFileNotFound   = errors.New("config file not found")
	ErrFileRead       = errors.New("cannot read config file")
	ErrInvalid        = errors.New("invalid config file")
	ErrDataDirEmpty   = errors.New("data-dir cannot be empty")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrBadLogLevel    = errors.New("unknown log level")
)

// Backend names accepted by the backend key.
const (
	BackendMemory = "memory"
	BackendJSON   = "json"
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Backends lists the valid backend names.
var Backends = []string{BackendMemory, BackendJSON, BackendJSONL, BackendSQLite}

// FileName is the project config file name.
const FileName = ".jsonsql.json"

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	DataDir      string `json:"data_dir"`
	Backend      string `json:"backend"`
	TableDefault string `json:"table_default,omitempty"`
	LogLevel     string `json:"log_level"`

	// Resolved (computed, not serialized)
	EffectiveCwd string `json:"-"`
	DataDirAbs   string `json:"-"`

	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:  ".jsonsql",
		Backend:  BackendJSON,
		LogLevel: "warn",
	}
}

// Input holds the inputs for [Load]. Empty override fields mean no override.
type Input struct {
	WorkDir    string // -C/--cwd; if empty, os.Getwd() is used
	ConfigPath string // -c/--config

	DataDir      string
	HasDataDir   bool // set when --data-dir was given, even if empty
	Backend      string
	TableDefault string
	LogLevel     string

	Env map[string]string
}

// globalPath returns $XDG_CONFIG_HOME/jsonsql/config.json, falling back to
// ~/.config/jsonsql/config.json, or "" when neither is known.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "jsonsql", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "jsonsql", "config.json")
	}

	return ""
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config (.jsonsql.json in the working directory, if present)
// 4. Explicit config file
// 5. CLI overrides.
func Load(in Input) (Config, error) {
	workDir := in.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(in.Env); path != "" {
		fileCfg, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fileCfg)
			cfg.Sources.Global = path
		}
	}

	projectPath := filepath.Join(workDir, FileName)
	mustExist := false

	if in.ConfigPath != "" {
		projectPath = in.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	fileCfg, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fileCfg)
		cfg.Sources.Project = projectPath
	}

	cfg = merge(cfg, Config{
		DataDir:      in.DataDir,
		Backend:      in.Backend,
		TableDefault: in.TableDefault,
		LogLevel:     in.LogLevel,
	})

	if in.HasDataDir && in.DataDir == "" {
		return Config{}, ErrDataDirEmpty
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	cfg.DataDirAbs = cfg.DataDir
	if !filepath.IsAbs(cfg.DataDirAbs) {
		cfg.DataDirAbs = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

// loadFile reads one config file. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist) && mustExist:
			return Config{}, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		case errors.Is(err, os.ErrNotExist):
			return Config{}, false, nil
		default:
			return Config{}, false, fmt.Errorf("%w: %s: %w", ErrFileRead, path, err)
		}
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "" would otherwise be indistinguishable from an absent key.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["data_dir"].(string); ok && v == "" {
		return Config{}, ErrDataDirEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.Backend != "" {
		base.Backend = overlay.Backend
	}

	if overlay.TableDefault != "" {
		base.TableDefault = overlay.TableDefault
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

func validate(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrDataDirEmpty
	}

	if !slices.Contains(Backends, cfg.Backend) {
		return fmt.Errorf("%w: %q (want one of %s)", ErrUnknownBackend, cfg.Backend, strings.Join(Backends, ", "))
	}

	_, err := ParseLevel(cfg.LogLevel)

	return err
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level

	err := lvl.UnmarshalText([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadLogLevel, s)
	}

	return lvl, nil
}

// Format renders the serialized fields as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
