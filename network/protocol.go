package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// DefaultPort is the fixed TCP transfer port.
	DefaultPort = 5005
	// FilenameLengthSize is the size of the big-endian filename length prefix.
	FilenameLengthSize = 8
	// MaxFilenameLength bounds the filename bytes a receiver will allocate.
	MaxFilenameLength = 64 * 1024
	// UnknownFilename replaces names that reduce to nothing usable.
	UnknownFilename = "unknown_file"
	// DefaultAcceptRetryDelay is the pause after a failed accept.
	DefaultAcceptRetryDelay = 100 * time.Millisecond
	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 30 * time.Second
)

var (
	// ErrConnect indicates the peer was unreachable or refused the connection.
	ErrConnect = errors.New("network: connect failed")
	// ErrFilenameWrite indicates the transfer header could not be sent.
	ErrFilenameWrite = errors.New("network: filename transmission failed")
	// ErrFileOpen indicates the local source file could not be opened.
	ErrFileOpen = errors.New("network: cannot open source file")
	// ErrTransfer indicates the content stream was interrupted.
	ErrTransfer = errors.New("network: transfer interrupted")
	// ErrFilenameTooLong indicates a filename above MaxFilenameLength.
	ErrFilenameTooLong = errors.New("network: filename exceeds max length")
	// ErrShortRead indicates the peer closed before a header field was complete.
	ErrShortRead = errors.New("network: short read")
)

// WriteHeader writes the filename length prefix followed by the filename.
func WriteHeader(w io.Writer, filename string) error {
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}

	header := make([]byte, FilenameLengthSize+len(filename))
	binary.BigEndian.PutUint64(header, uint64(len(filename)))
	copy(header[FilenameLengthSize:], filename)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write transfer header: %w", err)
	}
	return nil
}

// ReadFilenameLength reads the 8-byte length prefix.
func ReadFilenameLength(r io.Reader) (uint64, error) {
	prefix := make([]byte, FilenameLengthSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return 0, readError("filename length", err)
	}
	return binary.BigEndian.Uint64(prefix), nil
}

// ReadFilename reads length raw filename bytes. Lengths above
// MaxFilenameLength are rejected before allocating.
func ReadFilename(r io.Reader, length uint64) ([]byte, error) {
	if length > MaxFilenameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFilenameTooLong, length)
	}
	raw := make([]byte, int(length))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, readError("filename", err)
	}
	return raw, nil
}

// ReadHeader reads a complete header and returns the raw filename bytes.
func ReadHeader(r io.Reader) ([]byte, error) {
	length, err := ReadFilenameLength(r)
	if err != nil {
		return nil, err
	}
	return ReadFilename(r, length)
}

// SanitizeFilename reduces attacker-controlled filename bytes to a single
// path component. Invalid UTF-8 is replaced with U+FFFD, everything up to the
// last '/' or '\' is dropped, and empty, "." or ".." become UnknownFilename.
func SanitizeFilename(raw []byte) string {
	name := strings.ToValidUTF8(string(raw), "\uFFFD")
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "\x00", "")

	switch name {
	case "", ".", "..":
		return UnknownFilename
	}
	return name
}

func readError(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %w", ErrShortRead, field, err)
	}
	return fmt.Errorf("read %s: %w", field, err)
}
