package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"vdrop/crypto"
	"vdrop/storage"
)

// ReceiveState is the per-connection position in the transfer frame.
type ReceiveState int

const (
	StateAwaitLength ReceiveState = iota
	StateAwaitFilename
	StateStreaming
	StateDone
	StateFailed
)

func (s ReceiveState) String() string {
	switch s {
	case StateAwaitLength:
		return "await_length"
	case StateAwaitFilename:
		return "await_filename"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Journal records transfer lifecycles. *storage.Store satisfies it.
type Journal interface {
	BeginTransfer(transfer storage.Transfer) error
	FinishTransfer(transferID string, outcome storage.TransferOutcome) error
}

// InboundResult describes how one accepted connection ended.
type InboundResult struct {
	TransferID string
	Remote     string
	Filename   string
	Path       string
	Bytes      int64
	Digest     string
	// State is StateDone or StateFailed.
	State ReceiveState
	// FailedIn is the state the connection was in when it failed.
	FailedIn ReceiveState
	Err      error
}

// ReceiverOptions configures the transfer receiver.
type ReceiverOptions struct {
	// Dir is the fixed destination directory; created on demand.
	Dir string

	Logger  *zap.Logger
	Stats   tally.Scope
	Spawner Spawner
	Journal Journal

	// OnTransfer, when set, observes every finished connection.
	OnTransfer func(InboundResult)

	AcceptRetryDelay time.Duration
}

func (o ReceiverOptions) withDefaults() ReceiverOptions {
	out := o
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Stats == nil {
		out.Stats = tally.NoopScope
	}
	if out.Spawner == nil {
		out.Spawner = GoSpawner{}
	}
	if out.AcceptRetryDelay <= 0 {
		out.AcceptRetryDelay = DefaultAcceptRetryDelay
	}
	return out
}

// Receiver accepts inbound transfers and writes them into one directory.
type Receiver struct {
	listener net.Listener
	options  ReceiverOptions
	logger   *zap.Logger
	stats    tally.Scope

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	active   map[net.Conn]struct{}
	handlers sync.WaitGroup
}

// Listen binds the transfer port and starts the accept loop.
func Listen(address string, options ReceiverOptions) (*Receiver, error) {
	opts := options.withDefaults()
	if opts.Dir == "" {
		return nil, errors.New("receive directory is required")
	}

	if address == "" {
		address = ":" + strconv.Itoa(DefaultPort)
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	receiver := &Receiver{
		listener: listener,
		options:  opts,
		logger:   opts.Logger.Named("receiver"),
		stats:    opts.Stats.SubScope("transfer"),
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
		active:   make(map[net.Conn]struct{}),
	}

	receiver.wg.Add(1)
	go receiver.acceptLoop()
	return receiver, nil
}

// Addr returns the listening address.
func (r *Receiver) Addr() net.Addr {
	return r.listener.Addr()
}

// Close stops accepting, interrupts in-flight transfers and waits until
// every handler has recorded its outcome.
func (r *Receiver) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		close(r.closed)
		r.cancel()
		closeErr = r.listener.Close()
		r.wg.Wait()

		r.mu.Lock()
		for conn := range r.active {
			_ = conn.Close()
		}
		r.mu.Unlock()
		r.handlers.Wait()
	})
	return closeErr
}

func (r *Receiver) track(conn net.Conn) {
	r.mu.Lock()
	r.active[conn] = struct{}{}
	r.mu.Unlock()
	r.handlers.Add(1)
}

func (r *Receiver) untrack(conn net.Conn) {
	r.mu.Lock()
	delete(r.active, conn)
	r.mu.Unlock()
	r.handlers.Done()
}

func (r *Receiver) acceptLoop() {
	defer r.wg.Done()

	r.logger.Info("accepting transfers", zap.Stringer("addr", r.Addr()), zap.String("dir", r.options.Dir))
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.closed:
				return
			default:
			}

			r.logger.Warn("accept failed", zap.Error(err))
			select {
			case <-r.closed:
				return
			case <-time.After(r.options.AcceptRetryDelay):
			}
			continue
		}

		r.track(conn)
		err = r.options.Spawner.Spawn(r.ctx, func() {
			defer r.untrack(conn)
			r.handleInboundConn(conn)
		})
		if err != nil {
			_ = conn.Close()
			r.untrack(conn)
			r.logger.Debug("inbound connection dropped", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			select {
			case <-r.closed:
				return
			default:
			}
		}
	}
}

func (r *Receiver) handleInboundConn(conn net.Conn) {
	// The connection closes after the file does, so a sender waiting for
	// our close knows the content is on disk.
	defer func() {
		_ = conn.Close()
	}()

	result := r.receive(conn)
	r.record(result)
	if r.options.OnTransfer != nil {
		r.options.OnTransfer(result)
	}
}

func (r *Receiver) receive(conn net.Conn) InboundResult {
	result := InboundResult{Remote: conn.RemoteAddr().String()}
	fail := func(state ReceiveState, err error) InboundResult {
		result.State = StateFailed
		result.FailedIn = state
		result.Err = err
		return result
	}

	length, err := ReadFilenameLength(conn)
	if err != nil {
		return fail(StateAwaitLength, err)
	}

	raw, err := ReadFilename(conn, length)
	if err != nil {
		return fail(StateAwaitFilename, err)
	}
	result.Filename = SanitizeFilename(raw)

	if err := os.MkdirAll(r.options.Dir, 0o755); err != nil {
		return fail(StateStreaming, fmt.Errorf("create receive directory: %w", err))
	}
	result.Path = filepath.Join(r.options.Dir, result.Filename)
	file, err := os.Create(result.Path)
	if err != nil {
		return fail(StateStreaming, fmt.Errorf("create %q: %w", result.Filename, err))
	}

	result.TransferID = uuid.NewString()
	r.beginJournal(result)

	digest := crypto.NewDigest()
	written, copyErr := io.Copy(io.MultiWriter(file, digest), conn)
	closeErr := file.Close()
	result.Bytes = written
	result.Digest = crypto.DigestHex(digest)

	if copyErr != nil {
		return fail(StateStreaming, fmt.Errorf("stream %q: %w", result.Filename, copyErr))
	}
	if closeErr != nil {
		return fail(StateStreaming, fmt.Errorf("close %q: %w", result.Filename, closeErr))
	}

	result.State = StateDone
	return result
}

func (r *Receiver) record(result InboundResult) {
	outcomeState := result.State
	if result.State == StateFailed {
		outcomeState = result.FailedIn
	}
	r.stats.Tagged(map[string]string{
		"outcome": result.State.String(),
		"state":   outcomeState.String(),
	}).Counter("inbound").Inc(1)

	if result.TransferID != "" {
		r.finishJournal(result)
	}

	switch {
	case result.State == StateDone:
		r.logger.Info("file received",
			zap.String("remote", result.Remote),
			zap.String("file", result.Filename),
			zap.Int64("bytes", result.Bytes),
		)
	case result.FailedIn == StateAwaitLength && errors.Is(result.Err, ErrShortRead):
		// Probes and empty connections never send a header.
		r.logger.Debug("connection closed before header", zap.String("remote", result.Remote))
	default:
		r.logger.Warn("transfer failed",
			zap.String("remote", result.Remote),
			zap.Stringer("state", result.FailedIn),
			zap.String("file", result.Filename),
			zap.Int64("bytes", result.Bytes),
			zap.Error(result.Err),
		)
	}
}

func (r *Receiver) beginJournal(result InboundResult) {
	if r.options.Journal == nil {
		return
	}
	err := r.options.Journal.BeginTransfer(storage.Transfer{
		TransferID: result.TransferID,
		Direction:  storage.TransferDirectionReceive,
		PeerAddr:   result.Remote,
		Filename:   result.Filename,
		StoredPath: result.Path,
	})
	if err != nil {
		r.logger.Warn("journal begin failed", zap.String("transfer_id", result.TransferID), zap.Error(err))
	}
}

func (r *Receiver) finishJournal(result InboundResult) {
	if r.options.Journal == nil {
		return
	}
	outcome := storage.TransferOutcome{
		Status: storage.TransferStatusDone,
		Bytes:  result.Bytes,
		Digest: result.Digest,
	}
	if result.State == StateFailed {
		outcome.Status = storage.TransferStatusFailed
		outcome.FailedState = result.FailedIn.String()
		outcome.Error = result.Err.Error()
	}
	if err := r.options.Journal.FinishTransfer(result.TransferID, outcome); err != nil {
		r.logger.Warn("journal finish failed", zap.String("transfer_id", result.TransferID), zap.Error(err))
	}
}
