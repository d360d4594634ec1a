package config

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("VDROP_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.DeviceName == "" {
		t.Fatalf("expected non-empty device name")
	}
	if firstCfg.Port != DefaultPort {
		t.Fatalf("expected default port %d, got %d", DefaultPort, firstCfg.Port)
	}
	if !firstCfg.Journal() {
		t.Fatalf("expected journal to default to enabled")
	}
	if firstCfg.MDNSEnabled {
		t.Fatalf("expected mDNS to default to disabled")
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}
	expectedReceived := filepath.Join(tempDir, "received")
	if firstCfg.ReceivedDir != expectedReceived {
		t.Fatalf("expected received dir %q, got %q", expectedReceived, firstCfg.ReceivedDir)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.DeviceName != firstCfg.DeviceName {
		t.Fatalf("expected stable device name, got %q then %q", firstCfg.DeviceName, secondCfg.DeviceName)
	}
}

func TestLoadOrCreateNormalizesInvalidValues(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("VDROP_DATA_DIR", tempDir)

	if err := EnsureDataDirectories(tempDir, ""); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	disabled := false
	legacy := &DeviceConfig{
		DeviceName:          "  ",
		Port:                70000,
		JournalEnabled:      &disabled,
		LogLevel:            "WARNING",
		MaxInboundTransfers: -3,
	}
	if err := Save(ConfigPath(tempDir), legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.DeviceName == "" || cfg.DeviceName == "  " {
		t.Fatalf("expected device name to be filled, got %q", cfg.DeviceName)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("expected out-of-range port to reset to %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log level warn, got %q", cfg.LogLevel)
	}
	if cfg.MaxInboundTransfers != 0 {
		t.Fatalf("expected negative transfer cap to reset to 0, got %d", cfg.MaxInboundTransfers)
	}
	if cfg.Journal() {
		t.Fatalf("expected explicit journal opt-out to be retained")
	}
	if cfg.ReceivedDir != filepath.Join(tempDir, "received") {
		t.Fatalf("unexpected received dir %q", cfg.ReceivedDir)
	}

	reloaded, err := Load(ConfigPath(tempDir))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Port != DefaultPort {
		t.Fatalf("expected normalized config to be persisted, got port %d", reloaded.Port)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("NewLogger(debug) failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug logger to enable debug level")
	}

	logger, err = NewLogger("error")
	if err != nil {
		t.Fatalf("NewLogger(error) failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("expected error logger to drop warn level")
	}

	logger, err = NewLogger("nonsense")
	if err != nil {
		t.Fatalf("NewLogger(nonsense) failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) || logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected unknown level to fall back to info")
	}
}
