package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

const (
	// DefaultMDNSService is the mDNS service name without domain suffix.
	DefaultMDNSService = "_vdrop._tcp"
	// DefaultMDNSDomain is the mDNS domain.
	DefaultMDNSDomain = "local."
	// DefaultMDNSRefreshInterval is the background browse interval.
	DefaultMDNSRefreshInterval = 10 * time.Second
	// DefaultMDNSScanTimeout bounds each browse window.
	DefaultMDNSScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNS advertises this instance over multicast DNS and feeds browsed peers
// into the same registry the broadcast listener uses.
type MDNS struct {
	cfg      Config
	registry *Registry
	logger   *zap.Logger

	server *zeroconf.Server
	browse browseFunc

	accepted tally.Counter
	stats    tally.Scope

	stopOnce sync.Once
}

// StartMDNS registers the service record and prepares the browser. Browsing
// begins when Run is called.
func StartMDNS(config Config, registry *Registry) (*MDNS, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	cfg := config.withDefaults()

	register := cfg.registerFn
	if register == nil {
		register = zeroconf.Register
	}

	txt := []string{
		"app=" + AppTag,
		"device_name=" + cfg.DeviceName,
		"instance_id=" + cfg.InstanceID,
	}
	server, err := register("vdrop-"+cfg.InstanceID, cfg.MDNSService, cfg.MDNSDomain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			if server != nil {
				server.Shutdown()
			}
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	stats := cfg.Stats.SubScope("discovery").Tagged(map[string]string{"source": "mdns"})
	return &MDNS{
		cfg:      cfg,
		registry: registry,
		logger:   cfg.Logger.Named("mdns"),
		server:   server,
		browse:   browse,
		accepted: stats.Counter("accepted"),
		stats:    stats,
	}, nil
}

// Run browses immediately and then every refresh interval until ctx ends.
func (m *MDNS) Run(ctx context.Context) {
	if err := m.Scan(ctx); err != nil {
		m.logger.Warn("mDNS browse failed", zap.Error(err))
	}

	ticker := m.cfg.Clock.Ticker(m.cfg.MDNSRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil {
				m.logger.Warn("mDNS browse failed", zap.Error(err))
			}
		}
	}
}

// Scan runs one browse window and upserts every acceptable entry.
func (m *MDNS) Scan(ctx context.Context) error {
	scanCtx, cancel := context.WithTimeout(ctx, m.cfg.MDNSScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					// The resolver closes the channel once the window ends.
					<-scanCtx.Done()
					return
				}
				if entry != nil {
					m.handleEntry(entry)
				}
			}
		}
	}()

	err := m.browse(scanCtx, m.cfg.MDNSService, m.cfg.MDNSDomain, entries)
	// A deadline just means the browse window ended naturally.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		cancel()
		<-collectorDone
		return fmt.Errorf("browse %s: %w", m.cfg.MDNSService, err)
	}

	<-scanCtx.Done()
	<-collectorDone
	return nil
}

func (m *MDNS) handleEntry(entry *zeroconf.ServiceEntry) {
	identity, verdict := parseEntry(entry, m.cfg.InstanceID)
	if verdict != VerdictAccepted {
		m.stats.Tagged(map[string]string{"reason": verdict.String()}).Counter("ignored").Inc(1)
		m.logger.Debug("mDNS entry ignored", zap.String("instance", entry.Instance), zap.Stringer("reason", verdict))
		return
	}

	m.registry.Upsert(identity.Addr, identity, m.cfg.Clock.Now())
	m.accepted.Inc(1)
	m.logger.Debug("mDNS peer seen", zap.Stringer("addr", identity.Addr), zap.String("name", identity.Name))
}

// Stop withdraws the service record.
func (m *MDNS) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		if m.server != nil {
			m.server.Shutdown()
		}
	})
}

// parseEntry applies the broadcast filters to a browsed record: the app tag
// must match, the instance must not be our own, and an IPv4 address must be
// present to key the registry.
func parseEntry(entry *zeroconf.ServiceEntry, selfInstanceID string) (PeerIdentity, Verdict) {
	txt := txtToMap(entry.Text)

	app, ok := txt["app"]
	if !ok {
		return PeerIdentity{}, VerdictMalformed
	}
	if app != AppTag {
		return PeerIdentity{}, VerdictForeignApp
	}
	instanceID, ok := txt["instance_id"]
	if !ok {
		return PeerIdentity{}, VerdictMalformed
	}
	if instanceID == selfInstanceID {
		return PeerIdentity{}, VerdictSelfEcho
	}

	for _, ip := range entry.AddrIPv4 {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if !addr.Is4() {
			continue
		}
		return PeerIdentity{Addr: addr, Name: txt["device_name"]}, VerdictAccepted
	}
	return PeerIdentity{}, VerdictNoSource
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
