package config

import (
	"os"
	"path/filepath"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"debridhub/pkg/logger"
)

// Config represents the debrid backend configuration
type Config struct {
	Enabled         bool            `json:"enabled" yaml:"enabled"`
	APIKey          string          `json:"apiKey" yaml:"apiKey"`
	BaseURL         string          `json:"baseUrl" yaml:"baseUrl"`
	StorePath       string          `json:"storePath" yaml:"storePath"`
	RefreshSettings RefreshSettings `json:"refreshSettings" yaml:"refreshSettings"`
	CacheSettings   CacheSettings   `json:"cacheSettings" yaml:"cacheSettings"`
	RepairSettings  RepairSettings  `json:"repairSettings" yaml:"repairSettings"`
	RateLimit       RateLimit       `json:"rateLimit" yaml:"rateLimit"`
}

// RefreshSettings controls the periodic library refresh job
type RefreshSettings struct {
	IntervalSeconds int `json:"intervalSeconds" yaml:"intervalSeconds"`
}

// CacheSettings controls the TTL caches
type CacheSettings struct {
	DownloadLinkTTLMinutes int `json:"downloadLinkTtlMinutes" yaml:"downloadLinkTtlMinutes"`
	FailedFileTTLMinutes   int `json:"failedFileTtlMinutes" yaml:"failedFileTtlMinutes"`
	SweepIntervalMinutes   int `json:"sweepIntervalMinutes" yaml:"sweepIntervalMinutes"`
}

// RepairSettings controls the repair engine
type RepairSettings struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	AutoFix              bool     `json:"autoFix" yaml:"autoFix"`
	WorkerCount          int      `json:"workerCount" yaml:"workerCount"`
	MaxRetries           int      `json:"maxRetries" yaml:"maxRetries"`
	RetryBackoffMs       int      `json:"retryBackoffMs" yaml:"retryBackoffMs"`
	ScanIntervalMinutes  int      `json:"scanIntervalMinutes" yaml:"scanIntervalMinutes"`
	RepairTimeoutSeconds int      `json:"repairTimeoutSeconds" yaml:"repairTimeoutSeconds"`
	NotCachedPrefixes    []string `json:"notCachedPrefixes" yaml:"notCachedPrefixes"`
}

// RateLimit controls the provider request budget
type RateLimit struct {
	RequestsPerMinute int `json:"requestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int `json:"burst" yaml:"burst"`
	MaxRetries        int `json:"maxRetries" yaml:"maxRetries"`
	BaseBackoffMs     int `json:"baseBackoffMs" yaml:"baseBackoffMs"`
	MaxBackoffMs      int `json:"maxBackoffMs" yaml:"maxBackoffMs"`
}

// Manager manages configuration with concurrent access and file persistence
type Manager struct {
	config     *Config
	configPath string
	mutex      sync.RWMutex
}

func defaultConfig() *Config {
	return &Config{
		Enabled:   false,
		APIKey:    "",
		BaseURL:   "https://api.real-debrid.com/rest/1.0",
		StorePath: filepath.Join("db", "torrents.db"),
		RefreshSettings: RefreshSettings{
			IntervalSeconds: 15,
		},
		CacheSettings: CacheSettings{
			DownloadLinkTTLMinutes: 24 * 60,
			FailedFileTTLMinutes:   60,
			SweepIntervalMinutes:   30,
		},
		RepairSettings: RepairSettings{
			Enabled:              true,
			AutoFix:              true,
			WorkerCount:          2,
			MaxRetries:           3,
			RetryBackoffMs:       500,
			ScanIntervalMinutes:  60,
			RepairTimeoutSeconds: 30,
			NotCachedPrefixes:    []string{"not_cached"},
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 220,
			Burst:             0,
			MaxRetries:        3,
			BaseBackoffMs:     500,
			MaxBackoffMs:      8000,
		},
	}
}

// NewManager creates a config manager backed by the YAML file at configPath.
// A missing file is created with defaults.
func NewManager(configPath string) *Manager {
	cm := &Manager{
		config:     defaultConfig(),
		configPath: configPath,
	}
	if err := cm.loadConfig(); err != nil {
		logger.Warn("[Config] Failed to load config from %s: %v", configPath, err)
	}
	return cm
}

// GetConfig returns a copy of the current configuration
func (cm *Manager) GetConfig() *Config {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	configCopy := *cm.config
	configCopy.RepairSettings.NotCachedPrefixes = append([]string(nil), cm.config.RepairSettings.NotCachedPrefixes...)
	applyDefaults(&configCopy)
	return &configCopy
}

// SetConfig replaces the configuration
func (cm *Manager) SetConfig(config *Config) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.config = config
	return cm.saveConfig()
}

// UpdateConfig updates specific configuration fields from a partial map
func (cm *Manager) UpdateConfig(updates map[string]interface{}) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for key, value := range updates {
		switch key {
		case "enabled":
			if enabled, ok := value.(bool); ok {
				cm.config.Enabled = enabled
			}
		case "apiKey":
			if apiKey, ok := value.(string); ok {
				cm.config.APIKey = apiKey
			}
		case "baseUrl":
			if baseURL, ok := value.(string); ok && baseURL != "" {
				cm.config.BaseURL = baseURL
			}
		case "refreshSettings":
			if m, ok := value.(map[string]interface{}); ok {
				settings := cm.config.RefreshSettings
				if v, ok := toInt(m["intervalSeconds"]); ok && v > 0 {
					settings.IntervalSeconds = v
				}
				cm.config.RefreshSettings = settings
			}
		case "cacheSettings":
			if m, ok := value.(map[string]interface{}); ok {
				settings := cm.config.CacheSettings
				if v, ok := toInt(m["downloadLinkTtlMinutes"]); ok && v > 0 {
					settings.DownloadLinkTTLMinutes = v
				}
				if v, ok := toInt(m["failedFileTtlMinutes"]); ok && v > 0 {
					settings.FailedFileTTLMinutes = v
				}
				if v, ok := toInt(m["sweepIntervalMinutes"]); ok && v >= 0 {
					settings.SweepIntervalMinutes = v
				}
				cm.config.CacheSettings = settings
			}
		case "repairSettings":
			if m, ok := value.(map[string]interface{}); ok {
				settings := cm.config.RepairSettings
				if enabled, ok := m["enabled"].(bool); ok {
					settings.Enabled = enabled
				}
				if autoFix, ok := m["autoFix"].(bool); ok {
					settings.AutoFix = autoFix
				}
				if v, ok := toInt(m["workerCount"]); ok && v > 0 {
					settings.WorkerCount = v
				}
				if v, ok := toInt(m["maxRetries"]); ok && v >= 0 {
					settings.MaxRetries = v
				}
				if v, ok := toInt(m["retryBackoffMs"]); ok && v > 0 {
					settings.RetryBackoffMs = v
				}
				if v, ok := toInt(m["scanIntervalMinutes"]); ok && v > 0 {
					settings.ScanIntervalMinutes = v
				}
				if v, ok := toInt(m["repairTimeoutSeconds"]); ok && v > 0 {
					settings.RepairTimeoutSeconds = v
				}
				if prefixes, ok := m["notCachedPrefixes"].([]interface{}); ok {
					parsed := make([]string, 0, len(prefixes))
					for _, p := range prefixes {
						if s, ok := p.(string); ok && s != "" {
							parsed = append(parsed, s)
						}
					}
					settings.NotCachedPrefixes = parsed
				}
				cm.config.RepairSettings = settings
			}
		case "rateLimit":
			if m, ok := value.(map[string]interface{}); ok {
				settings := cm.config.RateLimit
				if v, ok := toInt(m["requestsPerMinute"]); ok && v > 0 {
					settings.RequestsPerMinute = v
				}
				if v, ok := toInt(m["burst"]); ok && v >= 0 {
					settings.Burst = v
				}
				if v, ok := toInt(m["maxRetries"]); ok && v >= 0 {
					settings.MaxRetries = v
				}
				if v, ok := toInt(m["baseBackoffMs"]); ok && v > 0 {
					settings.BaseBackoffMs = v
				}
				if v, ok := toInt(m["maxBackoffMs"]); ok && v > 0 {
					settings.MaxBackoffMs = v
				}
				cm.config.RateLimit = settings
			}
		}
	}

	return cm.saveConfig()
}

// IsEnabled returns whether the debrid provider is enabled
func (cm *Manager) IsEnabled() bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.config.Enabled
}

// GetAPIKey returns the provider API key
func (cm *Manager) GetAPIKey() string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.config.APIKey
}

func (cm *Manager) loadConfig() error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("[Config] Failed to create config directory %s: %v", dir, err)
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("[Config] Config file not found, using defaults")
			return cm.saveConfig()
		}
		return err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		logger.Warn("[Config] Failed to parse YAML config: %v", err)
		return err
	}

	applyDefaults(&config)
	cm.config = &config
	logger.Info("[Config] Configuration loaded from %s", cm.configPath)
	return nil
}

func (cm *Manager) saveConfig() error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cm.config)
	if err != nil {
		return err
	}

	return os.WriteFile(cm.configPath, data, 0644)
}

// ResetConfig resets configuration to defaults
func (cm *Manager) ResetConfig() error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.config = defaultConfig()
	return cm.saveConfig()
}

// ValidateConfig returns human-readable validation errors, if any
func (cm *Manager) ValidateConfig() []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var errors []string

	if cm.config.Enabled && cm.config.APIKey == "" {
		errors = append(errors, "API key is required when the debrid provider is enabled")
	}
	if cm.config.RepairSettings.WorkerCount <= 0 {
		errors = append(errors, "repair worker count must be positive")
	}

	return errors
}

// GetConfigStatus returns a status summary for the settings endpoint
func (cm *Manager) GetConfigStatus() map[string]interface{} {
	errs := cm.ValidateConfig()

	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return map[string]interface{}{
		"enabled":   cm.config.Enabled,
		"apiKeySet": cm.config.APIKey != "",
		"valid":     len(errs) == 0,
		"errors":    errs,
	}
}

func applyDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.real-debrid.com/rest/1.0"
	}
	if config.StorePath == "" {
		config.StorePath = filepath.Join("db", "torrents.db")
	}
	if config.RefreshSettings.IntervalSeconds <= 0 {
		config.RefreshSettings.IntervalSeconds = 15
	}
	if config.CacheSettings.DownloadLinkTTLMinutes <= 0 {
		config.CacheSettings.DownloadLinkTTLMinutes = 24 * 60
	}
	if config.CacheSettings.FailedFileTTLMinutes <= 0 {
		config.CacheSettings.FailedFileTTLMinutes = 60
	}
	if config.RepairSettings.WorkerCount <= 0 {
		config.RepairSettings.WorkerCount = 2
	}
	if config.RepairSettings.MaxRetries < 0 {
		config.RepairSettings.MaxRetries = 3
	}
	if config.RepairSettings.RetryBackoffMs <= 0 {
		config.RepairSettings.RetryBackoffMs = 500
	}
	if config.RepairSettings.ScanIntervalMinutes <= 0 {
		config.RepairSettings.ScanIntervalMinutes = 60
	}
	if config.RepairSettings.RepairTimeoutSeconds <= 0 {
		config.RepairSettings.RepairTimeoutSeconds = 30
	}
	if len(config.RepairSettings.NotCachedPrefixes) == 0 {
		config.RepairSettings.NotCachedPrefixes = []string{"not_cached"}
	}
	if config.RateLimit.RequestsPerMinute <= 0 {
		config.RateLimit.RequestsPerMinute = 220
	}
	if config.RateLimit.BaseBackoffMs <= 0 {
		config.RateLimit.BaseBackoffMs = 500
	}
	if config.RateLimit.MaxBackoffMs <= 0 {
		config.RateLimit.MaxBackoffMs = 8000
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
