package crypto

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the byte length of a content digest.
const DigestSize = blake2b.Size256

// NewDigest returns a streaming BLAKE2b-256 hash for transfer content.
func NewDigest() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only reachable with an oversized key, and no key is passed.
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	return h
}

// DigestHex renders a digest sum as lowercase hex.
func DigestHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// FileDigest computes the hex content digest of a file on disk.
func FileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for digest: %w", err)
	}
	defer file.Close()

	h := NewDigest()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("digest file: %w", err)
	}
	return DigestHex(h), nil
}
