package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shelfgrab/shelfgrab/models"
)

// FileWriter renders a finalized batch to a CSV file on disk. Unlike a
// streaming writer, the whole batch is written at once: column order
// depends on every record in the batch, so it cannot be known earlier.
type FileWriter struct {
	path string
}

// NewFileWriter prepares the output location, creating parent
// directories as needed.
func NewFileWriter(path string) (*FileWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("output path cannot be empty")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return &FileWriter{path: path}, nil
}

// Path returns the output file location.
func (w *FileWriter) Path() string {
	return w.path
}

// Write renders the batch and replaces the file contents.
func (w *FileWriter) Write(batch models.Batch) error {
	if err := os.WriteFile(w.path, Render(batch), 0o644); err != nil {
		return fmt.Errorf("write csv file: %w", err)
	}
	return nil
}

// Validate ensures the output file exists and has content.
func (w *FileWriter) Validate() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}
