package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/ipv4"
)

// Listener receives announcements on the shared discovery port and upserts
// accepted peers into the registry.
type Listener struct {
	conn  net.PacketConn
	pconn *ipv4.PacketConn

	registry       *Registry
	selfInstanceID string

	bufferSize int
	retryDelay time.Duration
	clock      clock.Clock
	logger     *zap.Logger

	stats    tally.Scope
	accepted tally.Counter
	peers    tally.Gauge

	closeOnce sync.Once
	closeErr  error
}

// NewListener binds the discovery port with address reuse so several
// processes on one host can share it.
func NewListener(config Config, registry *Registry) (*Listener, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	cfg := config.withDefaults()
	logger := cfg.Logger.Named("listener")

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.ListenAddr, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		logger.Debug("packet control messages unavailable", zap.Error(err))
	}

	stats := cfg.Stats.SubScope("discovery")
	return &Listener{
		conn:           conn,
		pconn:          pconn,
		registry:       registry,
		selfInstanceID: cfg.InstanceID,
		bufferSize:     cfg.ReceiveBufferSize,
		retryDelay:     cfg.ReceiveRetryDelay,
		clock:          cfg.Clock,
		logger:         logger,
		stats:          stats,
		accepted:       stats.Counter("accepted"),
		peers:          stats.Gauge("peers"),
	}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run receives datagrams until ctx ends. Receive errors are logged and
// followed by a short pause.
func (l *Listener) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	l.logger.Info("listening for announcements", zap.Stringer("addr", l.Addr()))

	buf := make([]byte, l.bufferSize)
	for {
		n, cm, src, err := l.pconn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-l.clock.After(l.retryDelay):
			}
			continue
		}

		if cm != nil {
			if ce := l.logger.Check(zapcore.DebugLevel, "datagram received"); ce != nil {
				ce.Write(zap.Stringer("src", src), zap.Stringer("dst", cm.Dst), zap.Int("ifindex", cm.IfIndex), zap.Int("bytes", n))
			}
		}
		l.HandleDatagram(buf[:n], src)
	}
}

// HandleDatagram classifies one payload and, when accepted, upserts the
// sender keyed by its source IP (the announced port is not used as a key).
func (l *Listener) HandleDatagram(payload []byte, src net.Addr) Verdict {
	msg, verdict := Classify(payload, l.selfInstanceID)
	var addr netip.Addr
	if verdict == VerdictAccepted {
		var ok bool
		addr, ok = sourceAddr(src)
		if !ok {
			verdict = VerdictNoSource
		}
	}

	if verdict != VerdictAccepted {
		l.stats.Tagged(map[string]string{"reason": verdict.String()}).Counter("ignored").Inc(1)
		l.logger.Debug("announcement ignored", zap.Stringer("src", src), zap.Stringer("reason", verdict))
		return verdict
	}

	l.registry.Upsert(addr, PeerIdentity{Addr: addr, Name: msg.DeviceName}, l.clock.Now())
	l.accepted.Inc(1)
	l.peers.Update(float64(l.registry.Len()))
	l.logger.Debug("peer seen", zap.Stringer("addr", addr), zap.String("name", msg.DeviceName))
	return VerdictAccepted
}

// Close releases the socket.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

func sourceAddr(src net.Addr) (netip.Addr, bool) {
	udpAddr, ok := src.(*net.UDPAddr)
	if !ok || udpAddr == nil {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
