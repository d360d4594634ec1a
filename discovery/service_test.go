package discovery

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Port != DefaultPort {
		t.Fatalf("expected port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.ListenAddr != "0.0.0.0:5005" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddr)
	}
	if cfg.InstanceID == "" {
		t.Fatalf("expected generated instance ID")
	}
	if cfg.BeaconInterval != 3*time.Second || cfg.JanitorInterval != 10*time.Second || cfg.PeerTTL != 15*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.ReceiveBufferSize != 2048 || cfg.ReceiveRetryDelay != 100*time.Millisecond {
		t.Fatalf("unexpected receive defaults: %d %s", cfg.ReceiveBufferSize, cfg.ReceiveRetryDelay)
	}
	if cfg.MDNSService != DefaultMDNSService || cfg.MDNSDomain != DefaultMDNSDomain {
		t.Fatalf("unexpected mDNS defaults: %q %q", cfg.MDNSService, cfg.MDNSDomain)
	}
	if cfg.Logger == nil || cfg.Stats == nil || cfg.Clock == nil {
		t.Fatalf("expected logger, stats and clock defaults")
	}
}

func TestConfigWithDefaultsKeepsInstanceID(t *testing.T) {
	cfg := Config{InstanceID: "fixed", Port: 6000}.withDefaults()
	if cfg.InstanceID != "fixed" {
		t.Fatalf("expected instance ID to be kept, got %q", cfg.InstanceID)
	}
	if cfg.ListenAddr != "0.0.0.0:6000" {
		t.Fatalf("expected listen address to follow port, got %q", cfg.ListenAddr)
	}
}

func TestStartRequiresRegistry(t *testing.T) {
	if _, err := Start(Config{}, nil); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestServiceStartAndStop(t *testing.T) {
	registry := NewRegistry()
	svc, err := Start(Config{
		InstanceID:     "svc",
		ListenAddr:     "127.0.0.1:0",
		BroadcastAddr:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9},
		BeaconInterval: 20 * time.Millisecond,
		Logger:         zaptest.NewLogger(t),
	}, registry)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.Listener == nil || svc.Beacon == nil || svc.Janitor == nil {
		t.Fatalf("expected listener, beacon and janitor")
	}
	if svc.MDNS != nil {
		t.Fatalf("expected mDNS to stay disabled")
	}
	if svc.InstanceID != "svc" {
		t.Fatalf("unexpected instance ID %q", svc.InstanceID)
	}

	svc.Stop()
	svc.Stop()
}

func TestServiceKeepsRunningWhenListenerCannotBind(t *testing.T) {
	registry := NewRegistry()
	svc, err := Start(Config{
		InstanceID:    "svc",
		ListenAddr:    "not-an-address",
		BroadcastAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9},
		Logger:        zaptest.NewLogger(t),
	}, registry)
	if err == nil {
		t.Fatalf("expected bind error")
	}
	if svc == nil {
		t.Fatalf("expected a running service despite the bind failure")
	}
	defer svc.Stop()

	if svc.Listener != nil {
		t.Fatalf("expected listener to be absent")
	}
	if svc.Beacon == nil || svc.Janitor == nil {
		t.Fatalf("expected beacon and janitor to keep running")
	}
}
