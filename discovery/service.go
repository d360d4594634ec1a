package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

const (
	// DefaultPort is the UDP discovery port; TCP transfer uses the same number.
	DefaultPort = 5005
	// DefaultBeaconInterval is the announcement cadence.
	DefaultBeaconInterval = 3 * time.Second
	// DefaultJanitorInterval is the registry sweep cadence.
	DefaultJanitorInterval = 10 * time.Second
	// DefaultPeerTTL is how long a silent peer stays listed.
	DefaultPeerTTL = 15 * time.Second
	// DefaultReceiveBufferSize bounds one inbound datagram.
	DefaultReceiveBufferSize = 2048
	// DefaultReceiveRetryDelay is the pause after a failed receive.
	DefaultReceiveRetryDelay = 100 * time.Millisecond
)

// Config controls the beacon, listener, janitor and optional mDNS.
type Config struct {
	Port       int
	DeviceName string
	InstanceID string

	// ListenAddr overrides the listener bind address (default 0.0.0.0:Port).
	ListenAddr string
	// LocalIP feeds broadcast address derivation; looked up when nil.
	LocalIP net.IP
	// BroadcastAddr overrides the derived beacon destination.
	BroadcastAddr *net.UDPAddr

	BeaconInterval    time.Duration
	JanitorInterval   time.Duration
	PeerTTL           time.Duration
	ReceiveBufferSize int
	ReceiveRetryDelay time.Duration

	MDNS                bool
	MDNSService         string
	MDNSDomain          string
	MDNSRefreshInterval time.Duration
	MDNSScanTimeout     time.Duration

	Logger *zap.Logger
	Stats  tally.Scope
	Clock  clock.Clock

	registerFn    registerFunc
	browseFn      browseFunc
	lookupLocalIP func() (net.IP, error)
}

func (c Config) withDefaults() Config {
	out := c
	if out.Port <= 0 {
		out.Port = DefaultPort
	}
	if out.DeviceName == "" {
		out.DeviceName = LocalDeviceName()
	}
	if out.InstanceID == "" {
		out.InstanceID = NewInstanceID()
	}
	if out.ListenAddr == "" {
		out.ListenAddr = net.JoinHostPort("0.0.0.0", strconv.Itoa(out.Port))
	}
	if out.BeaconInterval <= 0 {
		out.BeaconInterval = DefaultBeaconInterval
	}
	if out.JanitorInterval <= 0 {
		out.JanitorInterval = DefaultJanitorInterval
	}
	if out.PeerTTL <= 0 {
		out.PeerTTL = DefaultPeerTTL
	}
	if out.ReceiveBufferSize <= 0 {
		out.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if out.ReceiveRetryDelay <= 0 {
		out.ReceiveRetryDelay = DefaultReceiveRetryDelay
	}
	if out.MDNSService == "" {
		out.MDNSService = DefaultMDNSService
	}
	if out.MDNSDomain == "" {
		out.MDNSDomain = DefaultMDNSDomain
	}
	if out.MDNSRefreshInterval <= 0 {
		out.MDNSRefreshInterval = DefaultMDNSRefreshInterval
	}
	if out.MDNSScanTimeout <= 0 {
		out.MDNSScanTimeout = DefaultMDNSScanTimeout
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Stats == nil {
		out.Stats = tally.NoopScope
	}
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	if out.lookupLocalIP == nil {
		out.lookupLocalIP = LocalIPv4
	}
	return out
}

// Service runs the discovery tasks against one shared registry.
type Service struct {
	Registry *Registry
	Beacon   *Beacon
	Listener *Listener
	Janitor  *Janitor
	MDNS     *MDNS

	InstanceID string

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Start launches the listener, beacon and janitor (and mDNS when enabled)
// as independent tasks. A task whose socket cannot be opened is logged and
// skipped; the returned Service still runs the others, and the joined
// startup errors are returned alongside it.
func Start(config Config, registry *Registry) (*Service, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	cfg := config.withDefaults()
	logger := cfg.Logger

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		Registry:   registry,
		InstanceID: cfg.InstanceID,
		cancel:     cancel,
	}

	var startErrs []error

	listener, err := NewListener(cfg, registry)
	if err != nil {
		logger.Error("discovery listener not started", zap.String("addr", cfg.ListenAddr), zap.Error(err))
		startErrs = append(startErrs, fmt.Errorf("listener: %w", err))
	} else {
		svc.Listener = listener
		svc.run(ctx, listener.Run)
	}

	beacon, err := NewBeacon(cfg)
	if err != nil {
		logger.Error("discovery beacon not started", zap.Error(err))
		startErrs = append(startErrs, fmt.Errorf("beacon: %w", err))
	} else {
		svc.Beacon = beacon
		svc.run(ctx, beacon.Run)
	}

	svc.Janitor = NewJanitor(cfg, registry)
	svc.run(ctx, svc.Janitor.Run)

	if cfg.MDNS {
		mdns, err := StartMDNS(cfg, registry)
		if err != nil {
			logger.Error("mDNS discovery not started", zap.Error(err))
			startErrs = append(startErrs, fmt.Errorf("mdns: %w", err))
		} else {
			svc.MDNS = mdns
			svc.run(ctx, mdns.Run)
		}
	}

	return svc, errors.Join(startErrs...)
}

func (s *Service) run(ctx context.Context, task func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(ctx)
	}()
}

// Stop ends every discovery task. It is only needed at process shutdown.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.Beacon != nil {
			_ = s.Beacon.Close()
		}
		if s.Listener != nil {
			_ = s.Listener.Close()
		}
		if s.MDNS != nil {
			s.MDNS.Stop()
		}
	})
}
