package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Destination is the interface for an export target (file, S3).
type Destination interface {
	// Write stores the JSONL payload.
	Write(ctx context.Context, data []byte) error
	// Name identifies the destination in logs.
	Name() string
}

// FileDestination writes exports into a directory as
// lid_events-<UTC timestamp>.jsonl. The file appears atomically.
type FileDestination struct {
	dir string
	now func() time.Time
}

func NewFileDestination(dir string) *FileDestination {
	return &FileDestination{dir: dir, now: time.Now}
}

func (d *FileDestination) Name() string { return "file:" + d.dir }

// Path returns the file name an export taken at t is written to.
func (d *FileDestination) Path(t time.Time) string {
	return filepath.Join(d.dir, "lid_events-"+t.UTC().Format("20060102T150405Z")+".jsonl")
}

func (d *FileDestination) Write(_ context.Context, data []byte) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".lid_events-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}

	if err := os.Rename(tmp.Name(), d.Path(d.now())); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}
