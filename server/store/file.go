package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mindmeld-arena/server/rating"
)

// FileStore persists the rating snapshot as a single JSON document.
// It is the default sink; a prior run's file is reloaded on start so
// ratings carry across tournaments.
type FileStore struct {
	Path string
}

func NewFileStore(dir, name string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, name)}
}

func (fs *FileStore) Load(ctx context.Context) (*rating.Snapshot, error) {
	b, err := os.ReadFile(fs.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", fs.Path, err)
	}
	var snap rating.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fs.Path, err)
	}
	return &snap, nil
}

// Save writes via a temp file + rename so a crash mid-write never
// leaves a truncated snapshot behind.
func (fs *FileStore) Save(ctx context.Context, snap *rating.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(fs.Path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := fs.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.Path)
}
