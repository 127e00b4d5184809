// hot-reload.go: dynamic configuration with Argus integration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// HotConfig reloads the query defaults of a QueryClient from a watched
// configuration file.
type HotConfig struct {
	client  *QueryClient
	watcher *argus.Watcher
	logger  Logger
	mu      sync.RWMutex
	config  Config

	// OnReload is called after configuration is successfully reloaded.
	// This callback is optional and must be fast and non-blocking.
	OnReload func(oldConfig, newConfig Config)
}

// HotConfigOptions configures hot reload behavior.
type HotConfigOptions struct {
	// ConfigPath is the path to the configuration file to watch.
	// Supports JSON, YAML, TOML, HCL, INI, Properties formats.
	ConfigPath string

	// PollInterval is how often to check for configuration changes.
	// Default: 1 second. Minimum: 100ms.
	PollInterval time.Duration

	// OnReload is called after configuration is successfully reloaded.
	OnReload func(oldConfig, newConfig Config)

	// Logger for hot reload operations.
	// If nil, uses the client's logger.
	Logger Logger
}

// NewHotConfig creates a hot-reloadable configuration for client.
// Call Start to begin watching.
//
// Example configuration file (YAML):
//
//	query:
//	  stale_time: "30s"
//	  gc_time: "5m"
//	  keep_alive: "5s"
//	  retry_count: 3
//	  retry_initial_interval: "500ms"
//	  retry_max_interval: "30s"
//	  retry_multiplier: 1.5
//
// Reloaded values become the defaults of queries without their own
// QueryOptions. Keys missing from the file keep the value the client was
// created with.
func NewHotConfig(client *QueryClient, opts HotConfigOptions) (*HotConfig, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("config_path is required")
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = 1 * time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}

	if opts.Logger == nil {
		opts.Logger = client.logger
	}

	hc := &HotConfig{
		client:   client,
		logger:   opts.Logger,
		OnReload: opts.OnReload,
		config:   client.cfg,
	}

	argusConfig := argus.Config{
		PollInterval: opts.PollInterval,
	}
	watcher, err := argus.UniversalConfigWatcherWithConfig(opts.ConfigPath, hc.handleConfigChange, argusConfig)
	if err != nil {
		return nil, err
	}
	hc.watcher = watcher

	return hc, nil
}

// Start begins watching the configuration file for changes.
func (hc *HotConfig) Start() error {
	if hc.watcher.IsRunning() {
		return nil
	}
	return hc.watcher.Start()
}

// Stop stops watching the configuration file.
func (hc *HotConfig) Stop() error {
	return hc.watcher.Stop()
}

// GetConfig returns the current configuration (thread-safe).
func (hc *HotConfig) GetConfig() Config {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.config
}

// handleConfigChange is called by Argus when configuration changes.
func (hc *HotConfig) handleConfigChange(configData map[string]interface{}) {
	hc.mu.Lock()
	oldConfig := hc.config
	newConfig := parseConfig(oldConfig, configData)
	hc.config = newConfig
	hc.mu.Unlock()

	hc.applyChanges(oldConfig, newConfig)

	if hc.OnReload != nil {
		hc.OnReload(oldConfig, newConfig)
	}
}

// parseNonNegativeInt extracts a non-negative integer up to math.MaxInt32.
// Supports both int and float64 types (YAML/JSON may vary).
func parseNonNegativeInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v >= 0 && v <= math.MaxInt32 {
			return v, true
		}
	case float64:
		if v >= 0 && v <= math.MaxInt32 {
			return int(v), true
		}
	}
	return 0, false
}

// parseDuration extracts a time.Duration from a string value.
func parseDuration(value interface{}) (time.Duration, bool) {
	if str, ok := value.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d, true
		}
	}
	return 0, false
}

// parseFloatAtLeast extracts a float64 not below min.
func parseFloatAtLeast(value interface{}, min float64) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if v >= min {
			return v, true
		}
	case int:
		if float64(v) >= min {
			return float64(v), true
		}
	}
	return 0, false
}

// parseConfig overlays the query section of data on base.
func parseConfig(base Config, data map[string]interface{}) Config {
	config := base
	retry := DefaultRetryOptions()
	if base.Retry != nil {
		retry = *base.Retry
	}
	config.Retry = &retry

	section, ok := data["query"].(map[string]interface{})
	if !ok {
		// Try if the whole data IS the query section
		if _, hasGc := data["gc_time"]; hasGc {
			section = data
		} else {
			return config
		}
	}

	if d, ok := parseDuration(section["stale_time"]); ok {
		config.StaleTime = d
	}
	if d, ok := parseDuration(section["gc_time"]); ok && d > 0 {
		config.GcTime = d
	}
	if d, ok := parseDuration(section["keep_alive"]); ok {
		config.KeepAliveTime = d
	}
	if n, ok := parseNonNegativeInt(section["retry_count"]); ok {
		retry.RetryCount = n
	}
	if d, ok := parseDuration(section["retry_initial_interval"]); ok && d >= 0 {
		retry.InitialInterval = d
	}
	if d, ok := parseDuration(section["retry_max_interval"]); ok {
		retry.MaxInterval = d
	}
	if m, ok := parseFloatAtLeast(section["retry_multiplier"], 1); ok {
		retry.Multiplier = m
	}
	return config
}

// applyChanges pushes the reloaded defaults into the client. Queries
// already inside their keep-alive window finish it with the old duration.
func (hc *HotConfig) applyChanges(old, new Config) {
	hc.client.setDefaults(new.queryDefaults())
	hc.logger.Info("query defaults reloaded",
		"stale_time", new.StaleTime, "gc_time", new.GcTime, "keep_alive", new.KeepAliveTime,
		"retry_count", new.Retry.RetryCount)
	if old.GcTime != new.GcTime {
		hc.logger.Debug("gc time changed, applies to queries parked from now on",
			"old", old.GcTime, "new", new.GcTime)
	}
}
