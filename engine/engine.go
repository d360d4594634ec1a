package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"vdrop/config"
	"vdrop/discovery"
	"vdrop/models"
	"vdrop/network"
	"vdrop/storage"
)

// ErrJournalDisabled is returned by History when no journal is open.
var ErrJournalDisabled = errors.New("engine: transfer journal is disabled")

// Options wires an Engine to its collaborators.
type Options struct {
	Config  *config.DeviceConfig
	Logger  *zap.Logger
	Stats   tally.Scope
	Clock   clock.Clock
	Journal *storage.Store

	// Overrides for tests and multi-instance hosts.
	DiscoveryListenAddr string
	TransferListenAddr  string
	BroadcastAddr       *net.UDPAddr
}

// Engine is the surface the UI layer talks to: peer list, send, received
// files and transfer history.
type Engine struct {
	cfg     *config.DeviceConfig
	options Options
	logger  *zap.Logger
	journal network.Journal

	registry  *discovery.Registry
	discovery *discovery.Service
	receiver  *network.Receiver

	startOnce sync.Once
	stopOnce  sync.Once
}

// New validates options without opening any socket.
func New(options Options) (*Engine, error) {
	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.Stats == nil {
		options.Stats = tally.NoopScope
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}

	engine := &Engine{
		cfg:      options.Config,
		options:  options,
		logger:   options.Logger,
		registry: discovery.NewRegistry(),
	}
	if options.Journal != nil {
		engine.journal = options.Journal
	}
	return engine, nil
}

// Start creates and starts the engine in one step.
func Start(options Options) (*Engine, error) {
	engine, err := New(options)
	if err != nil {
		return nil, err
	}
	return engine, engine.Start()
}

// Start launches discovery and the transfer receiver. A subsystem that
// cannot bind is logged and left out; the rest keep running and the joined
// startup errors are returned.
func (e *Engine) Start() error {
	var startErr error
	e.startOnce.Do(func() {
		var errs []error

		svc, err := discovery.Start(discovery.Config{
			Port:          e.cfg.Port,
			DeviceName:    e.cfg.DeviceName,
			ListenAddr:    e.options.DiscoveryListenAddr,
			BroadcastAddr: e.options.BroadcastAddr,
			MDNS:          e.cfg.MDNSEnabled,
			Logger:        e.logger,
			Stats:         e.options.Stats,
			Clock:         e.options.Clock,
		}, e.registry)
		e.discovery = svc
		if err != nil {
			errs = append(errs, fmt.Errorf("discovery: %w", err))
		}

		receiver, err := network.Listen(e.transferListenAddr(), network.ReceiverOptions{
			Dir:     e.cfg.ReceivedDir,
			Logger:  e.logger,
			Stats:   e.options.Stats,
			Spawner: e.spawner(),
			Journal: e.journal,
		})
		if err != nil {
			e.logger.Error("transfer receiver not started", zap.Error(err))
			errs = append(errs, fmt.Errorf("receiver: %w", err))
		} else {
			e.receiver = receiver
		}

		startErr = errors.Join(errs...)
	})
	return startErr
}

func (e *Engine) transferListenAddr() string {
	if e.options.TransferListenAddr != "" {
		return e.options.TransferListenAddr
	}
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(e.cfg.Port))
}

func (e *Engine) spawner() network.Spawner {
	if e.cfg.MaxInboundTransfers > 0 {
		return network.NewBoundedSpawner(int64(e.cfg.MaxInboundTransfers))
	}
	return network.GoSpawner{}
}

// Peers lists the currently known peers ordered by name, then address.
func (e *Engine) Peers() []models.Peer {
	identities := e.registry.Snapshot()
	sort.Slice(identities, func(i, j int) bool {
		if identities[i].Name == identities[j].Name {
			return identities[i].Addr.Less(identities[j].Addr)
		}
		return identities[i].Name < identities[j].Name
	})

	peers := make([]models.Peer, 0, len(identities))
	for _, identity := range identities {
		peers = append(peers, models.Peer{IP: identity.Addr.String(), Name: identity.Name})
	}
	return peers
}

// Events exposes registry membership updates.
func (e *Engine) Events() <-chan discovery.Event {
	return e.registry.Events()
}

// SendFile pushes path to the peer at ip and returns the message shown to
// the user on success.
func (e *Engine) SendFile(ctx context.Context, ip, path, name string) (string, error) {
	result, err := network.SendFile(ctx, ip, path, name, network.SenderOptions{
		Port:    e.cfg.Port,
		Logger:  e.logger,
		Stats:   e.options.Stats,
		Journal: e.journal,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully sent %d bytes", result.Bytes), nil
}

// ReceivedFiles lists the received directory.
func (e *Engine) ReceivedFiles() ([]models.ReceivedFile, error) {
	return storage.ListReceived(e.cfg.ReceivedDir)
}

// History returns journaled transfers, newest first.
func (e *Engine) History(limit int) ([]storage.Transfer, error) {
	if e.options.Journal == nil {
		return nil, ErrJournalDisabled
	}
	return e.options.Journal.ListTransfers("", limit)
}

// DiscoveryAddr returns the bound discovery listener address, if any.
func (e *Engine) DiscoveryAddr() net.Addr {
	if e.discovery == nil || e.discovery.Listener == nil {
		return nil
	}
	return e.discovery.Listener.Addr()
}

// TransferAddr returns the bound receiver address, if any.
func (e *Engine) TransferAddr() net.Addr {
	if e.receiver == nil {
		return nil
	}
	return e.receiver.Addr()
}

// InstanceID returns this process's discovery instance identifier.
func (e *Engine) InstanceID() string {
	if e.discovery == nil {
		return ""
	}
	return e.discovery.InstanceID
}

// Stop shuts every subsystem down. It returns once every inbound transfer
// has recorded its outcome, so the journal can be closed afterwards.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.discovery != nil {
			e.discovery.Stop()
		}
		if e.receiver != nil {
			if err := e.receiver.Close(); err != nil {
				e.logger.Warn("transfer receiver close failed", zap.Error(err))
			}
		}
	})
}
