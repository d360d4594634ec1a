package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustBeginTransfer(t *testing.T, store *Store, transferID, direction string, startedAt int64) {
	t.Helper()

	err := store.BeginTransfer(Transfer{
		TransferID: transferID,
		Direction:  direction,
		PeerAddr:   "192.168.1.20:5005",
		Filename:   "file-" + transferID + ".bin",
		StartedAt:  startedAt,
	})
	if err != nil {
		t.Fatalf("begin transfer %q: %v", transferID, err)
	}
}
