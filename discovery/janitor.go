package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// Janitor evicts peers that have not announced within the TTL.
type Janitor struct {
	registry *Registry
	interval time.Duration
	ttl      time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	evicted tally.Counter
	peers   tally.Gauge
}

// NewJanitor creates a janitor for registry.
func NewJanitor(config Config, registry *Registry) *Janitor {
	cfg := config.withDefaults()
	stats := cfg.Stats.SubScope("discovery")
	return &Janitor{
		registry: registry,
		interval: cfg.JanitorInterval,
		ttl:      cfg.PeerTTL,
		clock:    cfg.Clock,
		logger:   cfg.Logger.Named("janitor"),
		evicted:  stats.Counter("evicted"),
		peers:    stats.Gauge("peers"),
	}
}

// Run sweeps once per interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	if j.registry == nil {
		j.logger.Error("janitor not running", zap.Error(errors.New("registry is required")))
		return
	}

	ticker := j.clock.Ticker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep evicts stale peers now and returns how many were removed.
func (j *Janitor) Sweep() int {
	removed := j.registry.EvictOlderThan(j.clock.Now(), j.ttl)
	remaining := j.registry.Len()

	j.evicted.Inc(int64(removed))
	j.peers.Update(float64(remaining))
	if removed > 0 {
		j.logger.Info("stale peers evicted", zap.Int("removed", removed), zap.Int("remaining", remaining))
	} else {
		j.logger.Debug("registry swept", zap.Int("remaining", remaining))
	}
	return removed
}
