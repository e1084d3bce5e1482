// Package models defines the core data structures for the items API.
package models

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// SafeConfig provides thread-safe access to configuration.
// It uses RWMutex to allow concurrent reads while serializing writes.
// Pattern from Prometheus blackbox_exporter.
//
// Request handlers read the user ID header name and the log level through
// SafeConfig, so operators can change them via SIGHUP or by editing the file.
// Invalid configurations are rejected without affecting the running config.
//
// Usage:
//
//	safeCfg := NewSafeConfig(cfg)
//	current := safeCfg.Get()
//	changed, err := safeCfg.ReloadConfig("/path/to/config.yaml")
type SafeConfig struct {
	mu sync.RWMutex
	C  *Config
}

// NewSafeConfig creates a new SafeConfig with the provided initial config.
// The config is stored by reference; the caller should not modify it after
// passing it to NewSafeConfig.
func NewSafeConfig(cfg *Config) *SafeConfig {
	return &SafeConfig{
		C: cfg,
	}
}

// Get returns the current configuration (read-locked).
// The returned pointer is safe to use until the next reload.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.C
}

// UserIDHeader returns the inbound header carrying the end-user identity.
func (sc *SafeConfig) UserIDHeader() string {
	return sc.Get().Server.UserIDHeader
}

// LogLevel returns the configured logrus level name.
func (sc *SafeConfig) LogLevel() string {
	return sc.Get().Server.LogLevel
}

// ReloadConfig loads and validates a new configuration from the file.
// Validation happens BEFORE acquiring write lock, so invalid configurations
// never affect the running service.
//
// Returns:
//   - restartRequired: true if a setting changed that only takes effect on
//     restart (listen address, variant or telemetry pipeline)
//   - err: error if file cannot be read or validation fails
func (sc *SafeConfig) ReloadConfig(configPath string) (restartRequired bool, err error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false, fmt.Errorf("config file not found: %s", configPath)
	}

	f, err := os.Open(configPath)
	if err != nil {
		return false, fmt.Errorf("failed to open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	var newCfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&newCfg); err != nil {
		return false, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := newCfg.Validate(); err != nil {
		return false, fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	old := sc.C
	sc.C = &newCfg
	sc.mu.Unlock()

	restartRequired = old.GetServerAddress() != newCfg.GetServerAddress() ||
		old.Server.Variant != newCfg.Server.Variant ||
		old.Telemetry != newCfg.Telemetry

	log.Info("Configuration reloaded successfully")
	if restartRequired {
		log.Warn("Listener, variant or telemetry settings changed; restart to apply them")
	}

	return restartRequired, nil
}
