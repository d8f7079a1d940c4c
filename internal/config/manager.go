package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database" json:"database"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage" json:"storage"`
	Log      LogConfig      `yaml:"log" mapstructure:"log" json:"log,omitempty"`
	Janitor  JanitorConfig  `yaml:"janitor" mapstructure:"janitor" json:"janitor"`
}

// ServerConfig represents the HTTP listener configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" json:"listen_addr"`
}

// DatabaseConfig represents the SQLite metadata-store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path" json:"path"`
}

// StorageConfig represents the on-disk block-store configuration.
type StorageConfig struct {
	DataRoot string `yaml:"data_root" mapstructure:"data_root" json:"data_root"`
}

// LogConfig represents logging configuration with rotation support.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file" json:"file,omitempty"`
	Level      string `yaml:"level" mapstructure:"level" json:"level,omitempty"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" json:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" json:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" json:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress" mapstructure:"compress" json:"compress,omitempty"`
}

// JanitorConfig represents the background token/zip-progress sweep schedule.
type JanitorConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule" json:"schedule"`
	// ZipProgressMaxAge is how long a zip_progress row may sit unclaimed
	// (never streamed to completion, never conditionally short-circuited)
	// before the janitor treats it as orphaned and deletes it.
	ZipProgressMaxAge time.Duration `yaml:"zip_progress_max_age" mapstructure:"zip_progress_max_age" json:"zip_progress_max_age"`
}

// DeepCopy returns a deep copy of the configuration using the copier library.
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	copyCfg := &Config{}
	if err := copier.CopyWithOption(copyCfg, c, copier.Option{DeepCopy: true}); err != nil {
		shallowCopy := *c
		return &shallowCopy
	}

	return copyCfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen_addr cannot be empty")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Storage.DataRoot == "" {
		return fmt.Errorf("storage data_root cannot be empty")
	}
	if !filepath.IsAbs(c.Storage.DataRoot) {
		return fmt.Errorf("storage data_root must be an absolute path")
	}

	if c.Log.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[c.Log.Level] {
			return fmt.Errorf("log.level must be one of: debug, info, warn, error")
		}
	}
	if c.Log.MaxSize < 0 {
		return fmt.Errorf("log.max_size must be non-negative")
	}
	if c.Log.MaxAge < 0 {
		return fmt.Errorf("log.max_age must be non-negative")
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be non-negative")
	}

	if c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor schedule cannot be empty")
	}
	if c.Janitor.ZipProgressMaxAge <= 0 {
		return fmt.Errorf("janitor zip_progress_max_age must be positive")
	}

	return nil
}

// ChangeCallback represents a function called when configuration changes.
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter represents a function that returns the current configuration.
type ConfigGetter func() *Config

// Manager manages configuration state and persistence.
type Manager struct {
	current    *Config
	configFile string
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager.
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{
		current:    config,
		configFile: configFile,
	}
}

// GetConfig returns the current configuration (thread-safe).
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration.
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// UpdateConfig updates the current configuration (thread-safe) and notifies callbacks.
func (m *Manager) UpdateConfig(config *Config) error {
	m.mutex.Lock()
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback to be called when configuration changes.
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ValidateConfigUpdate validates configuration updates, rejecting changes to
// fields that require a process restart to take effect.
func (m *Manager) ValidateConfigUpdate(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	m.mutex.RLock()
	currentConfig := m.current
	m.mutex.RUnlock()

	if currentConfig != nil {
		if newConfig.Server.ListenAddr != currentConfig.Server.ListenAddr {
			return fmt.Errorf("server listen_addr cannot be changed via API - requires server restart")
		}
		if newConfig.Database.Path != currentConfig.Database.Path {
			return fmt.Errorf("database path cannot be changed via API - requires server restart")
		}
		if newConfig.Storage.DataRoot != currentConfig.Storage.DataRoot {
			return fmt.Errorf("storage data_root cannot be changed via API - requires server restart")
		}
	}

	return nil
}

// ReloadConfig reloads configuration from file.
func (m *Manager) ReloadConfig() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	viper.SetConfigFile(m.configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", m.configFile, err)
	}

	config := DefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.current = config
	return nil
}

// SaveConfig saves the current configuration to file.
func (m *Manager) SaveConfig() error {
	m.mutex.RLock()
	config := m.current
	m.mutex.RUnlock()

	if config == nil {
		return fmt.Errorf("no configuration to save")
	}

	return SaveToFile(config, m.configFile)
}

// DefaultConfig returns a config with default values. If configDir is
// provided it is used as the base for the database, storage and log paths.
func DefaultConfig(configDir ...string) *Config {
	var dbPath, dataRoot, logPath string

	if len(configDir) > 0 && configDir[0] != "" {
		dbPath = filepath.Join(configDir[0], "blockstream.db")
		dataRoot = filepath.Join(configDir[0], "blocks")
		logPath = filepath.Join(configDir[0], "blockstream.log")
	} else {
		dbPath = "./blockstream.db"
		dataRoot, _ = filepath.Abs("./blocks")
		logPath = "./blockstream.log"
	}

	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Storage: StorageConfig{
			DataRoot: dataRoot,
		},
		Log: LogConfig{
			File:       logPath,
			Level:      "info",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
		Janitor: JanitorConfig{
			Schedule:          "@every 1m",
			ZipProgressMaxAge: time.Hour,
		},
	}
}

// SaveToFile saves a configuration to a YAML file.
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfig loads configuration from file and merges with defaults,
// creating a default configuration file if none exists yet.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	var targetConfigFile string
	if configFile != "" {
		viper.SetConfigFile(configFile)
		targetConfigFile = configFile
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		targetConfigFile = "config.yaml"
	}

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			configDir := filepath.Dir(targetConfigFile)
			configForSave := DefaultConfig(configDir)
			if err := SaveToFile(configForSave, targetConfigFile); err != nil {
				return nil, fmt.Errorf("failed to create default config file %s: %w", targetConfigFile, err)
			}

			fmt.Printf("Created default configuration file: %s\n", targetConfigFile)

			viper.SetConfigFile(targetConfigFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading newly created config file %s: %w", targetConfigFile, err)
			}
		} else if configFile != "" {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if configFile != "" && !viper.IsSet("log.file") {
		configDir := filepath.Dir(configFile)
		config.Log.File = filepath.Join(configDir, "blockstream.log")
	}

	if portEnv := os.Getenv("PORT"); portEnv != "" {
		config.Server.ListenAddr = ":" + portEnv
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// GetConfigFilePath returns the configuration file path used by viper.
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}
