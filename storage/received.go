package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"vdrop/models"
)

// MaxPreviewSize caps the image size embedded as a base64 preview.
const MaxPreviewSize = 16 * 1024 * 1024

var previewExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// ListReceived lists the regular files in the received directory, sorted by name.
//
// A missing directory yields an empty list.
func ListReceived(dir string) ([]models.ReceivedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.ReceivedFile{}, nil
		}
		return nil, fmt.Errorf("read received directory: %w", err)
	}

	files := make([]models.ReceivedFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		file := models.ReceivedFile{
			Name: entry.Name(),
			Size: info.Size(),
		}
		if hasPreview(entry.Name()) && info.Size() <= MaxPreviewSize {
			if raw, err := os.ReadFile(filepath.Join(dir, entry.Name())); err == nil {
				file.Preview = base64.StdEncoding.EncodeToString(raw)
			}
		}
		files = append(files, file)
	}

	return files, nil
}

func hasPreview(name string) bool {
	_, ok := previewExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
