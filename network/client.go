package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"vdrop/crypto"
	"vdrop/storage"
)

// SenderOptions configures one outbound transfer.
type SenderOptions struct {
	// Port is used when the target carries no port.
	Port        int
	DialTimeout time.Duration

	Logger  *zap.Logger
	Stats   tally.Scope
	Journal Journal
}

func (o SenderOptions) withDefaults() SenderOptions {
	out := o
	if out.Port <= 0 {
		out.Port = DefaultPort
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Stats == nil {
		out.Stats = tally.NoopScope
	}
	return out
}

// SendResult reports a completed outbound transfer.
type SendResult struct {
	TransferID string
	Bytes      int64
	Digest     string
}

// SendFile pushes one local file to target. displayName is what the
// receiver sees; it defaults to the source's base name.
//
// Errors wrap ErrFileOpen, ErrConnect, ErrFilenameWrite or ErrTransfer.
// There is no retry and no resume.
func SendFile(ctx context.Context, target, sourcePath, displayName string, options SenderOptions) (SendResult, error) {
	opts := options.withDefaults()
	logger := opts.Logger.Named("sender")
	outbound := opts.Stats.SubScope("transfer")

	if displayName == "" {
		displayName = filepath.Base(sourcePath)
	}

	s := &sendAttempt{
		opts:        opts,
		logger:      logger,
		address:     transferAddress(target, opts.Port),
		sourcePath:  sourcePath,
		displayName: displayName,
	}
	result, err := s.run(ctx)

	outcome := "done"
	if err != nil {
		outcome = "failed"
		logger.Warn("send failed", zap.String("target", s.address), zap.String("file", displayName), zap.Error(err))
	} else {
		logger.Info("file sent", zap.String("target", s.address), zap.String("file", displayName), zap.Int64("bytes", result.Bytes))
	}
	outbound.Tagged(map[string]string{"outcome": outcome}).Counter("outbound").Inc(1)

	return result, err
}

type sendAttempt struct {
	opts        SenderOptions
	logger      *zap.Logger
	address     string
	sourcePath  string
	displayName string

	transferID string
}

func (s *sendAttempt) run(ctx context.Context) (SendResult, error) {
	// Open before dialing so a bad path never creates an empty file remotely.
	file, err := os.Open(s.sourcePath)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %w", ErrFileOpen, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: stat %q: %w", ErrFileOpen, s.sourcePath, err)
	}
	if info.IsDir() {
		return SendResult{}, fmt.Errorf("%w: %q is a directory", ErrFileOpen, s.sourcePath)
	}

	dialer := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: dial %q: %w", ErrConnect, s.address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	s.transferID = uuid.NewString()
	s.beginJournal()

	result := SendResult{TransferID: s.transferID}
	if err := WriteHeader(conn, s.displayName); err != nil {
		err = fmt.Errorf("%w: %w", ErrFilenameWrite, err)
		s.finishJournal(result, "send_filename", err)
		return result, err
	}

	digest := crypto.NewDigest()
	written, err := io.Copy(conn, io.TeeReader(file, digest))
	result.Bytes = written
	result.Digest = crypto.DigestHex(digest)
	if err != nil {
		err = fmt.Errorf("%w: after %d bytes: %w", ErrTransfer, written, err)
		s.finishJournal(result, "stream", err)
		return result, err
	}

	if err := closeWrite(conn); err != nil {
		err = fmt.Errorf("%w: close write side: %w", ErrTransfer, err)
		s.finishJournal(result, "stream", err)
		return result, err
	}

	// The receiver closes once the file is on disk.
	if _, err := io.Copy(io.Discard, conn); err != nil {
		err = fmt.Errorf("%w: await receiver close: %w", ErrTransfer, err)
		s.finishJournal(result, "stream", err)
		return result, err
	}

	s.finishJournal(result, "", nil)
	return result, nil
}

func (s *sendAttempt) beginJournal() {
	if s.opts.Journal == nil {
		return
	}
	err := s.opts.Journal.BeginTransfer(storage.Transfer{
		TransferID: s.transferID,
		Direction:  storage.TransferDirectionSend,
		PeerAddr:   s.address,
		Filename:   s.displayName,
		StoredPath: s.sourcePath,
	})
	if err != nil {
		s.logger.Warn("journal begin failed", zap.String("transfer_id", s.transferID), zap.Error(err))
	}
}

func (s *sendAttempt) finishJournal(result SendResult, failedState string, sendErr error) {
	if s.opts.Journal == nil {
		return
	}
	outcome := storage.TransferOutcome{
		Status: storage.TransferStatusDone,
		Bytes:  result.Bytes,
		Digest: result.Digest,
	}
	if sendErr != nil {
		outcome.Status = storage.TransferStatusFailed
		outcome.FailedState = failedState
		outcome.Error = sendErr.Error()
	}
	if err := s.opts.Journal.FinishTransfer(s.transferID, outcome); err != nil {
		s.logger.Warn("journal finish failed", zap.String("transfer_id", s.transferID), zap.Error(err))
	}
}

func closeWrite(conn net.Conn) error {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}

// transferAddress appends the transfer port to a bare host or IP.
func transferAddress(target string, port int) string {
	target = strings.TrimSpace(target)
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(strings.Trim(target, "[]"), strconv.Itoa(port))
}
