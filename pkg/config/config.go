// Package config provides configuration loading, validation, and management
// for the pipeline coordinator.
//
// A single global Config instance is maintained in memory, protected by a
// mutex. GetConfig returns the config BY VALUE (copy, not reference) to
// prevent external mutation; all updates go through the Update* functions,
// which validate before persisting. Timeouts and backend selection are
// configuration, never hard-coded in the runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"conductor/pkg/contract"
	"conductor/pkg/logx"
)

// CurrentSchemaVersion must be incremented on any breaking config change.
const CurrentSchemaVersion = 1

const (
	// BackendFile selects the JSON-file state store.
	BackendFile = "file"
	// BackendSQLite selects the SQLite state store.
	BackendSQLite = "sqlite"
)

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter      string `json:"exporter"`       // "prometheus" or "noop"
	PrometheusURL string `json:"prometheus_url"` // Prometheus server URL for rollup queries
}

// Config holds all coordinator settings.
type Config struct {
	SchemaVersion      int            `json:"schema_version"`
	StateBackend       string         `json:"state_backend"`
	StateDir           string         `json:"state_dir"`
	DBPath             string         `json:"db_path"`
	DefaultTimeoutSecs int            `json:"default_timeout_secs"`
	StageTimeoutSecs   map[string]int `json:"stage_timeout_secs"` // per-stage overrides, keyed by agent name
	Metrics            MetricsConfig  `json:"metrics"`
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig(dir string) Config {
	return Config{
		SchemaVersion:      CurrentSchemaVersion,
		StateBackend:       BackendFile,
		StateDir:           filepath.Join(dir, ".conductor", "state"),
		DBPath:             filepath.Join(dir, ".conductor", "state.db"),
		DefaultTimeoutSecs: 300,
		StageTimeoutSecs:   map[string]int{},
		Metrics: MetricsConfig{
			Exporter: "noop",
		},
	}
}

func configPath(dir string) string {
	return filepath.Join(dir, ".conductor", "config.json")
}

// LoadConfig reads the config file under dir, falling back to defaults when
// none exists. Must be called once at startup before GetConfig.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	path := configPath(dir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig(dir)
		config = &cfg
		getLogger().Info("no config at %s, using defaults", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	config = &cfg
	getLogger().Info("config loaded from %s (backend: %s)", path, cfg.StateBackend)
	return nil
}

// GetConfig returns the current configuration by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call LoadConfig first")
	}
	return *config, nil
}

// StageTimeout returns the collaborator timeout for a stage, falling back to
// the default when no override is configured.
func StageTimeout(agent contract.Agent) time.Duration {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return 0
	}
	if secs, ok := config.StageTimeoutSecs[string(agent)]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(config.DefaultTimeoutSecs) * time.Second
}

// UpdateStageTimeout atomically sets a per-stage timeout override and
// persists the config.
func UpdateStageTimeout(agent contract.Agent, secs int) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded: call LoadConfig first")
	}
	if secs <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", secs)
	}

	updated := *config
	updated.StageTimeoutSecs = make(map[string]int, len(config.StageTimeoutSecs)+1)
	for k, v := range config.StageTimeoutSecs {
		updated.StageTimeoutSecs[k] = v
	}
	updated.StageTimeoutSecs[string(agent)] = secs

	if err := persist(&updated); err != nil {
		return err
	}
	config = &updated
	return nil
}

func validate(cfg *Config) error {
	if cfg.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version %d (expected %d)", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	if cfg.StateBackend != BackendFile && cfg.StateBackend != BackendSQLite {
		return fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
	if cfg.DefaultTimeoutSecs <= 0 {
		return fmt.Errorf("default_timeout_secs must be positive, got %d", cfg.DefaultTimeoutSecs)
	}
	for agent, secs := range cfg.StageTimeoutSecs {
		if _, ok := contract.ValidateAgent(agent); !ok {
			return fmt.Errorf("stage_timeout_secs references unknown agent %q", agent)
		}
		if secs <= 0 {
			return fmt.Errorf("stage_timeout_secs[%s] must be positive, got %d", agent, secs)
		}
	}
	if cfg.Metrics.Exporter != "prometheus" && cfg.Metrics.Exporter != "noop" {
		return fmt.Errorf("unknown metrics exporter %q", cfg.Metrics.Exporter)
	}
	return nil
}

func persist(cfg *Config) error {
	path := configPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
