package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// Beacon periodically broadcasts this instance's announcement.
type Beacon struct {
	conn    net.PacketConn
	pconn   *ipv4.PacketConn
	dst     *net.UDPAddr
	payload []byte

	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	sent       tally.Counter
	sendErrors tally.Counter
}

// NewBeacon serializes the announcement once and opens an ephemeral
// broadcast-capable socket.
func NewBeacon(config Config) (*Beacon, error) {
	cfg := config.withDefaults()
	if cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	logger := cfg.Logger.Named("beacon")

	payload, err := NewAnnouncement(cfg.DeviceName, uint16(cfg.Port), cfg.InstanceID).Marshal()
	if err != nil {
		return nil, err
	}

	dst := cfg.BroadcastAddr
	if dst == nil {
		local := cfg.LocalIP
		if local == nil {
			local, err = cfg.lookupLocalIP()
			if err != nil {
				logger.Warn("local address lookup failed; using limited broadcast", zap.Error(err))
			}
		}
		dst = BroadcastAddress(local, cfg.Port)
	}

	// Go enables SO_BROADCAST on datagram sockets.
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("open beacon socket: %w", err)
	}

	stats := cfg.Stats.SubScope("discovery")
	return &Beacon{
		conn:       conn,
		pconn:      ipv4.NewPacketConn(conn),
		dst:        dst,
		payload:    payload,
		interval:   cfg.BeaconInterval,
		clock:      cfg.Clock,
		logger:     logger,
		sent:       stats.Counter("announcements_sent"),
		sendErrors: stats.Counter("send_errors"),
	}, nil
}

// Destination returns the broadcast address announcements go to.
func (b *Beacon) Destination() *net.UDPAddr {
	return b.dst
}

// Payload returns the serialized announcement.
func (b *Beacon) Payload() []byte {
	return append([]byte(nil), b.payload...)
}

// Announce sends one announcement.
func (b *Beacon) Announce() error {
	if _, err := b.pconn.WriteTo(b.payload, nil, b.dst); err != nil {
		b.sendErrors.Inc(1)
		return fmt.Errorf("send announcement to %s: %w", b.dst, err)
	}
	b.sent.Inc(1)
	return nil
}

// Run announces immediately and then once per interval until ctx ends.
// Send failures are logged and never stop the loop.
func (b *Beacon) Run(ctx context.Context) {
	b.logger.Info("broadcasting presence", zap.Stringer("dst", b.dst), zap.Duration("interval", b.interval))
	for {
		if err := b.Announce(); err != nil {
			b.logger.Warn("announcement not sent", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-b.clock.After(b.interval):
		}
	}
}

// Close releases the socket.
func (b *Beacon) Close() error {
	return b.conn.Close()
}
