package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "vdrop"
	// DefaultPort is used for both UDP discovery and TCP file transfer.
	DefaultPort = 5005
	// DefaultDeviceName is announced when the hostname cannot be resolved.
	DefaultDeviceName = "vdrop device"
	// DefaultLogLevel is the zap level used when none is configured.
	DefaultLogLevel = "info"
	// receivedDirName is the flat directory holding received files.
	receivedDirName = "received"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// dataDirEnv overrides the OS-aware data directory.
	dataDirEnv = "VDROP_DATA_DIR"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceName          string `json:"device_name"`
	Port                int    `json:"port"`
	ReceivedDir         string `json:"received_dir"`
	JournalEnabled      *bool  `json:"journal_enabled,omitempty"`
	MDNSEnabled         bool   `json:"mdns_enabled"`
	LogLevel            string `json:"log_level"`
	MaxInboundTransfers int    `json:"max_inbound_transfers"`
}

// Journal reports whether the transfer journal should be opened.
func (c *DeviceConfig) Journal() bool {
	return c.JournalEnabled == nil || *c.JournalEnabled
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If VDROP_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(dataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the data directory and the received directory.
func EnsureDataDirectories(dataDir, receivedDir string) error {
	dirs := []string{dataDir}
	if receivedDir != "" {
		dirs = append(dirs, receivedDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir, ""); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := EnsureDataDirectories(dataDir, cfg.ReceivedDir); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *DeviceConfig {
	return &DeviceConfig{
		DeviceName:  hostDeviceName(),
		Port:        DefaultPort,
		ReceivedDir: filepath.Join(dataDir, receivedDirName),
		LogLevel:    DefaultLogLevel,
	}
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = hostDeviceName()
		updated = true
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = DefaultPort
		updated = true
	}

	if cfg.ReceivedDir == "" {
		cfg.ReceivedDir = filepath.Join(dataDir, receivedDirName)
		updated = true
	}

	level := normalizeLogLevel(cfg.LogLevel)
	if cfg.LogLevel != level {
		cfg.LogLevel = level
		updated = true
	}

	if cfg.MaxInboundTransfers < 0 {
		cfg.MaxInboundTransfers = 0
		updated = true
	}

	return updated
}

func hostDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return DefaultDeviceName
}

func normalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "debug"
	case "info":
		return "info"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return DefaultLogLevel
	}
}
