package storage

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"vdrop/crypto"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// TransferDirectionSend marks a transfer pushed by this process.
	TransferDirectionSend = "send"
	// TransferDirectionReceive marks a transfer accepted by this process.
	TransferDirectionReceive = "receive"
)

const (
	// TransferStatusStreaming is recorded when content starts flowing.
	TransferStatusStreaming = "streaming"
	// TransferStatusDone is recorded after a clean end of stream.
	TransferStatusDone = "done"
	// TransferStatusFailed is recorded when the transfer aborted.
	TransferStatusFailed = "failed"
)

// Transfer is the SQLite representation of one journaled file transfer.
type Transfer struct {
	TransferID  string
	Direction   string
	PeerAddr    string
	Filename    string
	StoredPath  string
	Bytes       int64
	Digest      string
	Status      string
	FailedState string
	Error       string
	StartedAt   int64
	FinishedAt  *int64
}

// TransferOutcome is the final state written by FinishTransfer.
type TransferOutcome struct {
	Status      string
	Bytes       int64
	Digest      string
	FailedState string
	Error       string
}

type scanner interface {
	Scan(dest ...any) error
}

func validateTransferDirection(direction string) error {
	switch direction {
	case TransferDirectionSend, TransferDirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case TransferStatusStreaming, TransferStatusDone, TransferStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

// validateDigest accepts an empty digest or a hex-encoded content digest.
func validateDigest(digest string) error {
	if digest == "" {
		return nil
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != crypto.DigestSize {
		return fmt.Errorf("invalid digest %q: want %d hex-encoded bytes", digest, crypto.DigestSize)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
