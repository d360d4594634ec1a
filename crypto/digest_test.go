package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileDigestMatchesStreamingDigest(t *testing.T) {
	content := []byte("vdrop digest fixture")
	path := filepath.Join(t.TempDir(), "fixture.bin")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fromFile, err := FileDigest(path)
	if err != nil {
		t.Fatalf("FileDigest failed: %v", err)
	}

	h := NewDigest()
	_, _ = h.Write(content[:5])
	_, _ = h.Write(content[5:])
	if streamed := DigestHex(h); streamed != fromFile {
		t.Fatalf("digest mismatch: file=%s streamed=%s", fromFile, streamed)
	}
	if len(fromFile) != DigestSize*2 {
		t.Fatalf("unexpected digest length %d", len(fromFile))
	}
}

func TestFileDigestDiffersForDifferentContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("a"), 0o600); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("b"), 0o600); err != nil {
		t.Fatalf("write b: %v", err)
	}

	da, err := FileDigest(a)
	if err != nil {
		t.Fatalf("digest a: %v", err)
	}
	db, err := FileDigest(b)
	if err != nil {
		t.Fatalf("digest b: %v", err)
	}
	if da == db {
		t.Fatalf("expected different digests for different content")
	}
}

func TestFileDigestMissingFile(t *testing.T) {
	if _, err := FileDigest(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
