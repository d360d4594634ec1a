package storage

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestListReceivedListsFilesWithImagePreviews(t *testing.T) {
	dir := t.TempDir()
	image := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	if err := os.WriteFile(filepath.Join(dir, "photo.PNG"), image, 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := ListReceived(dir)
	if err != nil {
		t.Fatalf("ListReceived failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files (directories skipped), got %+v", files)
	}

	if files[0].Name != "notes.txt" || files[0].Preview != "" || files[0].Size != 5 {
		t.Fatalf("unexpected text entry: %+v", files[0])
	}
	if files[1].Name != "photo.PNG" {
		t.Fatalf("unexpected image entry: %+v", files[1])
	}
	if files[1].Preview != base64.StdEncoding.EncodeToString(image) {
		t.Fatalf("unexpected image preview %q", files[1].Preview)
	}
}

func TestListReceivedMissingDirectoryIsEmpty(t *testing.T) {
	files, err := ListReceived(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("ListReceived failed: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %+v", files)
	}
}
