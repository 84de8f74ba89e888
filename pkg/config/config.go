// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Trackflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Uplink    UplinkConfig    `yaml:"uplink"`
	Link      LinkConfig      `yaml:"link"`
	Journal   JournalConfig   `yaml:"journal"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig controls the record files on the medium.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	JournalDir  string `yaml:"journal_dir"`
	FileCeiling int64  `yaml:"file_ceiling"` // bytes per file before rotation
}

// SessionConfig sets the sampling defaults an operator can override.
type SessionConfig struct {
	DurationMinutes int `yaml:"duration_minutes"`
	IntervalMillis  int `yaml:"interval_millis"`
}

// UplinkConfig controls the long-range transmission pipeline.
type UplinkConfig struct {
	PayloadCeiling int           `yaml:"payload_ceiling"`
	MinSignal      int           `yaml:"min_signal"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Backoff        time.Duration `yaml:"backoff"`
}

// LinkConfig controls the operator link surface.
type LinkConfig struct {
	FrameSize    int    `yaml:"frame_size"`
	AutoTransmit int64  `yaml:"auto_transmit"` // pending bytes threshold, 0 disables
	InboxDir     string `yaml:"inbox_dir"`     // watched for command files
}

// JournalConfig selects the transmit-journal backend.
type JournalConfig struct {
	Backend      string        `yaml:"backend"` // file | redis
	RedisAddress string        `yaml:"redis_address"`
	RedisDB      int           `yaml:"redis_db"`
	SweepAge     time.Duration `yaml:"sweep_age"`
}

// HistoryConfig controls the session/transmission history database.
type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Database string `yaml:"database"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	trackflowDir := filepath.Join(homeDir, ".trackflow")

	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:     filepath.Join(trackflowDir, "data"),
			JournalDir:  filepath.Join(trackflowDir, "journal"),
			FileCeiling: 190,
		},
		Session: SessionConfig{
			DurationMinutes: 5,
			IntervalMillis:  10000,
		},
		Uplink: UplinkConfig{
			PayloadCeiling: 95,
			MinSignal:      2,
			MaxAttempts:    3,
			Backoff:        2 * time.Second,
		},
		Link: LinkConfig{
			FrameSize:    95,
			AutoTransmit: 190,
			InboxDir:     filepath.Join(trackflowDir, "inbox"),
		},
		Journal: JournalConfig{
			Backend:  "file",
			SweepAge: 72 * time.Hour,
		},
		History: HistoryConfig{
			Enabled:  true,
			Database: filepath.Join(trackflowDir, "history.db"),
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/trackflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".trackflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".trackflow.yaml"))
	}
	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Storage
	if src.Storage.DataDir != "" {
		m.config.Storage.DataDir = src.Storage.DataDir
	}
	if src.Storage.JournalDir != "" {
		m.config.Storage.JournalDir = src.Storage.JournalDir
	}
	if src.Storage.FileCeiling != 0 {
		m.config.Storage.FileCeiling = src.Storage.FileCeiling
	}

	// Session
	if src.Session.DurationMinutes != 0 {
		m.config.Session.DurationMinutes = src.Session.DurationMinutes
	}
	if src.Session.IntervalMillis != 0 {
		m.config.Session.IntervalMillis = src.Session.IntervalMillis
	}

	// Uplink
	if src.Uplink.PayloadCeiling != 0 {
		m.config.Uplink.PayloadCeiling = src.Uplink.PayloadCeiling
	}
	if src.Uplink.MinSignal != 0 {
		m.config.Uplink.MinSignal = src.Uplink.MinSignal
	}
	if src.Uplink.MaxAttempts != 0 {
		m.config.Uplink.MaxAttempts = src.Uplink.MaxAttempts
	}
	if src.Uplink.Backoff != 0 {
		m.config.Uplink.Backoff = src.Uplink.Backoff
	}

	// Link
	if src.Link.FrameSize != 0 {
		m.config.Link.FrameSize = src.Link.FrameSize
	}
	if src.Link.AutoTransmit != 0 {
		m.config.Link.AutoTransmit = src.Link.AutoTransmit
	}
	if src.Link.InboxDir != "" {
		m.config.Link.InboxDir = src.Link.InboxDir
	}

	// Journal
	if src.Journal.Backend != "" {
		m.config.Journal.Backend = src.Journal.Backend
	}
	if src.Journal.RedisAddress != "" {
		m.config.Journal.RedisAddress = src.Journal.RedisAddress
	}
	if src.Journal.RedisDB != 0 {
		m.config.Journal.RedisDB = src.Journal.RedisDB
	}
	if src.Journal.SweepAge != 0 {
		m.config.Journal.SweepAge = src.Journal.SweepAge
	}

	// History
	if src.History.Database != "" {
		m.config.History.Database = src.History.Database
	}
	if src.History.Enabled {
		m.config.History.Enabled = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("TRACKFLOW_DATA_DIR"); v != "" {
		m.config.Storage.DataDir = v
	}
	if v := os.Getenv("TRACKFLOW_MIN_SIGNAL"); v != "" {
		var q int
		if _, err := fmt.Sscanf(v, "%d", &q); err == nil {
			m.config.Uplink.MinSignal = q
		}
	}
	if v := os.Getenv("TRACKFLOW_REDIS"); v != "" {
		m.config.Journal.Backend = "redis"
		m.config.Journal.RedisAddress = v
	}
	if v := os.Getenv("TRACKFLOW_DATABASE"); v != "" {
		m.config.History.Database = v
	}
	if v := os.Getenv("TRACKFLOW_TELEMETRY"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".trackflow")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0o644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
