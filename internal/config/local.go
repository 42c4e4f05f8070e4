package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	apiKeyFileName   = "api-key"
	configDirName    = ".mapsync"
	configFileName   = "config.yaml"
	databaseFileName = "mapsync.db"
	defaultAddr      = "127.0.0.1:8080"
)

// LocalConfig holds configuration loaded from the local config file.
type LocalConfig struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string

	// LogLevel is the minimum log level name.
	LogLevel string

	// MapAPI contains map service settings. APIKeySecretARN is unused locally.
	MapAPI MapAPI

	// Redis contains Redis lock settings.
	Redis Redis

	// ServerAddr is the listen address of the admin API.
	ServerAddr string

	// Sync contains run behaviour settings.
	Sync Sync
}

// localConfig represents the local configuration file structure.
type localConfig struct {
	Database localDatabase `yaml:"database"`
	LogLevel string        `yaml:"log_level"`
	MapAPI   localMapAPI   `yaml:"map_api"`
	Redis    localRedis    `yaml:"redis"`
	Server   localServer   `yaml:"server"`
	Sync     localSync     `yaml:"sync"`
}

// localDatabase represents the database section of the config file.
type localDatabase struct {
	Path string `yaml:"path"`
}

// localMapAPI represents the map_api section of the config file.
type localMapAPI struct {
	BaseURL       string        `yaml:"base_url"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	RateLimit     float64       `yaml:"rate_limit"`
	Source        string        `yaml:"source"`
	Timeout       time.Duration `yaml:"timeout"`
}

// localRedis represents the redis section of the config file.
type localRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// localServer represents the server section of the config file.
type localServer struct {
	Addr string `yaml:"addr"`
}

// localSync represents the sync section of the config file.
type localSync struct {
	DryRun     bool          `yaml:"dry_run"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// ConfigDir returns the mapsync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// APIKeyFilePath returns the path to the local API key file.
func APIKeyFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, apiKeyFileName), nil
}

// LoadLocal loads configuration from the local config file.
func LoadLocal() (*LocalConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadLocalFrom(configPath)
}

// LoadLocalFrom loads configuration from the given file, applying defaults for missing values.
func LoadLocalFrom(configPath string) (*LocalConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'mapsync init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var local localConfig
	if err := yaml.Unmarshal(data, &local); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &LocalConfig{
		DatabasePath: expandHome(local.Database.Path),
		LogLevel:     local.LogLevel,
		MapAPI: MapAPI{
			BaseURL:       strings.TrimRight(strings.TrimSpace(local.MapAPI.BaseURL), "/"),
			HealthTimeout: local.MapAPI.HealthTimeout,
			RateLimit:     local.MapAPI.RateLimit,
			Source:        strings.TrimSpace(local.MapAPI.Source),
			Timeout:       local.MapAPI.Timeout,
		},
		Redis: Redis{
			Addr:     strings.TrimSpace(local.Redis.Addr),
			Password: local.Redis.Password,
		},
		ServerAddr: strings.TrimSpace(local.Server.Addr),
		Sync: Sync{
			DryRun:     local.Sync.DryRun,
			StaleAfter: local.Sync.StaleAfter,
		},
	}

	cfg.applyDefaults(filepath.Dir(configPath))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

func (c *LocalConfig) applyDefaults(configDir string) {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(configDir, databaseFileName)
	}
	if c.MapAPI.BaseURL == "" {
		c.MapAPI.BaseURL = defaultMapAPIBaseURL
	}
	if c.MapAPI.HealthTimeout == 0 {
		c.MapAPI.HealthTimeout = defaultHealthTimeout
	}
	if c.MapAPI.Timeout == 0 {
		c.MapAPI.Timeout = defaultTimeout
	}
	if c.ServerAddr == "" {
		c.ServerAddr = defaultAddr
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = defaultStaleAfter
	}
}

// validate checks that the values are usable.
func (c *LocalConfig) validate() error {
	var errs []error

	if !strings.HasPrefix(c.MapAPI.BaseURL, "http://") && !strings.HasPrefix(c.MapAPI.BaseURL, "https://") {
		errs = append(errs, errors.New("map_api.base_url must be an http or https URL"))
	}
	if c.MapAPI.RateLimit < 0 {
		errs = append(errs, errors.New("map_api.rate_limit cannot be negative"))
	}
	if c.MapAPI.Timeout < 0 || c.MapAPI.HealthTimeout < 0 {
		errs = append(errs, errors.New("map_api timeouts cannot be negative"))
	}
	if c.Sync.StaleAfter < 0 {
		errs = append(errs, errors.New("sync.stale_after cannot be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// expandHome replaces a leading ~/ with the home directory.
func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
