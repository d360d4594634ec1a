package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteHeader(&buffer, "holiday photo.jpg"); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if got := binary.BigEndian.Uint64(buffer.Bytes()[:FilenameLengthSize]); got != uint64(len("holiday photo.jpg")) {
		t.Fatalf("unexpected length prefix %d", got)
	}

	raw, err := ReadHeader(&buffer)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if string(raw) != "holiday photo.jpg" {
		t.Fatalf("filename mismatch: %q", raw)
	}
}

func TestWriteHeaderRejectsOversizedFilename(t *testing.T) {
	var buffer bytes.Buffer
	name := string(bytes.Repeat([]byte("a"), MaxFilenameLength+1))
	if err := WriteHeader(&buffer, name); !errors.Is(err, ErrFilenameTooLong) {
		t.Fatalf("expected ErrFilenameTooLong, got %v", err)
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", buffer.Len())
	}
}

func TestReadFilenameRejectsOversizedLength(t *testing.T) {
	prefix := make([]byte, FilenameLengthSize)
	binary.BigEndian.PutUint64(prefix, 1<<62)

	if _, err := ReadHeader(bytes.NewReader(prefix)); !errors.Is(err, ErrFilenameTooLong) {
		t.Fatalf("expected ErrFilenameTooLong, got %v", err)
	}
}

func TestReadHeaderShortReads(t *testing.T) {
	partialName := make([]byte, FilenameLengthSize)
	binary.BigEndian.PutUint64(partialName, 10)
	partialName = append(partialName, "abc"...)

	cases := map[string][]byte{
		"empty":          {},
		"partial prefix": {0, 0, 0},
		"partial name":   partialName,
	}
	for name, payload := range cases {
		if _, err := ReadHeader(bytes.NewReader(payload)); !errors.Is(err, ErrShortRead) {
			t.Fatalf("%s: expected ErrShortRead, got %v", name, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		raw  []byte
		want string
	}{
		{raw: []byte("report.pdf"), want: "report.pdf"},
		{raw: []byte("../../evil"), want: "evil"},
		{raw: []byte("/etc/passwd"), want: "passwd"},
		{raw: []byte(`..\..\windows.ini`), want: "windows.ini"},
		{raw: []byte("nested/dir/"), want: UnknownFilename},
		{raw: []byte(""), want: UnknownFilename},
		{raw: []byte("."), want: UnknownFilename},
		{raw: []byte(".."), want: UnknownFilename},
		{raw: []byte("a/.."), want: UnknownFilename},
		{raw: []byte{'a', 0xff, 'b'}, want: "a\uFFFDb"},
		{raw: []byte("nul\x00byte"), want: "nulbyte"},
		{raw: []byte("..."), want: "..."},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.raw); got != tc.want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestTransferAddress(t *testing.T) {
	cases := map[string]string{
		"192.168.1.5":      "192.168.1.5:5005",
		"192.168.1.5:6000": "192.168.1.5:6000",
		"laptop.local":     "laptop.local:5005",
		"fe80::1":          "[fe80::1]:5005",
		"[::1]":            "[::1]:5005",
		"[::1]:7000":       "[::1]:7000",
	}
	for target, want := range cases {
		if got := transferAddress(target, DefaultPort); got != want {
			t.Fatalf("transferAddress(%q) = %q, want %q", target, got, want)
		}
	}
}

func TestReceiveStateStrings(t *testing.T) {
	want := map[ReceiveState]string{
		StateAwaitLength:   "await_length",
		StateAwaitFilename: "await_filename",
		StateStreaming:     "streaming",
		StateDone:          "done",
		StateFailed:        "failed",
	}
	for state, expected := range want {
		if state.String() != expected {
			t.Fatalf("expected %q, got %q", expected, state.String())
		}
	}
}
