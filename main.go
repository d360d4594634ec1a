package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"vdrop/config"
	"vdrop/discovery"
	"vdrop/engine"
	"vdrop/storage"
)

const usage = `usage: vdrop [command]

commands:
  run                          announce this device and accept files (default)
  peers [-wait 4s]             listen for announcements and list peers
  send <ip> <path> [name]      send one file to a peer
  received                     list received files
  history [-limit 20]          show journaled transfers
`

func main() {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "run":
		err = runDaemon()
	case "peers":
		err = runPeers(args)
	case "send":
		err = runSend(args)
	case "received":
		err = runReceived()
	case "history":
		err = runHistory(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

type app struct {
	cfg     *config.DeviceConfig
	cfgPath string
	dataDir string
	logger  *zap.Logger
	journal *storage.Store
	dbPath  string
	closers []io.Closer
}

func openApp(withJournal bool) (*app, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		dataDir: filepath.Dir(cfgPath),
		logger:  logger,
	}
	if withJournal && cfg.Journal() {
		store, dbPath, err := storage.Open(a.dataDir, storage.WithLogger(logger))
		if err != nil {
			// The journal is optional; transfers still work without it.
			logger.Warn("transfer journal unavailable", zap.Error(err))
		} else {
			a.journal = store
			a.dbPath = dbPath
			a.closers = append(a.closers, store)
		}
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func runDaemon() error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, statsCloser := tally.NewRootScope(tally.ScopeOptions{Separator: "."}, time.Second)
	a.closers = append(a.closers, statsCloser)

	fmt.Printf("Device Name:     %s\n", a.cfg.DeviceName)
	fmt.Printf("Port:            %d (udp discovery, tcp transfer)\n", a.cfg.Port)
	fmt.Printf("Config File:     %s\n", a.cfgPath)
	fmt.Printf("Received Files:  %s\n", a.cfg.ReceivedDir)
	if a.journal != nil {
		fmt.Printf("Journal File:    %s\n", a.dbPath)
	}

	eng, err := engine.Start(engine.Options{
		Config:  a.cfg,
		Logger:  a.logger,
		Stats:   stats,
		Journal: a.journal,
	})
	if eng == nil {
		return err
	}
	defer eng.Stop()
	if err != nil {
		fmt.Printf("Status:          degraded (%v)\n", err)
	}
	fmt.Printf("Instance ID:     %s\n", eng.InstanceID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go logDiscoveryEvents(ctx, a.logger, eng.Events())

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
	return nil
}

func runPeers(args []string) error {
	flags := flag.NewFlagSet("peers", flag.ExitOnError)
	wait := flags.Duration("wait", 2*discovery.DefaultBeaconInterval, "how long to listen for announcements")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	registry := discovery.NewRegistry()
	svc, err := discovery.Start(discovery.Config{
		Port:       a.cfg.Port,
		DeviceName: a.cfg.DeviceName,
		Logger:     a.logger,
	}, registry)
	if svc == nil {
		return err
	}
	defer svc.Stop()
	if svc.Listener == nil {
		return err
	}

	time.Sleep(*wait)
	for _, peer := range registry.Snapshot() {
		fmt.Printf("%-15s  %s\n", peer.Addr, peer.Name)
	}
	return nil
}

func runSend(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("expected <ip> <path> [name]")
	}
	ip, path := args[0], args[1]
	name := filepath.Base(path)
	if len(args) == 3 {
		name = args[2]
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := engine.New(engine.Options{
		Config:  a.cfg,
		Logger:  a.logger,
		Journal: a.journal,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	message, err := eng.SendFile(ctx, ip, path, name)
	if err != nil {
		return err
	}
	fmt.Println(message)
	return nil
}

func runReceived() error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := storage.ListReceived(a.cfg.ReceivedDir)
	if err != nil {
		return err
	}
	for _, file := range files {
		preview := ""
		if file.Preview != "" {
			preview = "  [preview]"
		}
		fmt.Printf("%12d  %s%s\n", file.Size, file.Name, preview)
	}
	return nil
}

func runHistory(args []string) error {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	limit := flags.Int("limit", 20, "maximum number of transfers to show")
	if err := flags.Parse(args); err != nil {
		return err
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := engine.New(engine.Options{Config: a.cfg, Logger: a.logger, Journal: a.journal})
	if err != nil {
		return err
	}
	transfers, err := eng.History(*limit)
	if err != nil {
		return err
	}
	for _, transfer := range transfers {
		status := transfer.Status
		if transfer.FailedState != "" {
			status += " in " + transfer.FailedState
		}
		fmt.Printf("%s  %-7s  %-21s  %-24s  %12s  %s\n",
			time.UnixMilli(transfer.StartedAt).Format(time.DateTime),
			transfer.Direction,
			transfer.PeerAddr,
			transfer.Filename,
			strconv.FormatInt(transfer.Bytes, 10),
			status,
		)
	}
	return nil
}

func logDiscoveryEvents(ctx context.Context, logger *zap.Logger, events <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			switch event.Type {
			case discovery.EventPeerUpserted:
				logger.Info("peer available", zap.Stringer("addr", event.Peer.Addr), zap.String("name", event.Peer.Name))
			case discovery.EventPeerRemoved:
				logger.Info("peer removed", zap.Stringer("addr", event.Peer.Addr), zap.String("name", event.Peer.Name))
			default:
				logger.Debug("discovery event", zap.String("type", string(event.Type)))
			}
		}
	}
}
