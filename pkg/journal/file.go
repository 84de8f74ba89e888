package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileBackend stores one JSON file per entry on the same medium as the
// log store.
type FileBackend struct {
	fs  afero.Fs
	dir string
}

// NewFileBackend opens (or creates) the journal directory.
func NewFileBackend(fs afero.Fs, dir string) (*FileBackend, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{fs: fs, dir: dir}, nil
}

// Name returns the backend name.
func (b *FileBackend) Name() string { return "file" }

// Save persists an entry, overwriting any previous version.
func (b *FileBackend) Save(_ context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return afero.WriteFile(b.fs, b.path(e.ID), data, 0o644)
}

// Load retrieves an entry by ID.
func (b *FileBackend) Load(_ context.Context, id string) (*Entry, error) {
	data, err := afero.ReadFile(b.fs, b.path(id))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (b *FileBackend) Delete(_ context.Context, id string) error {
	err := b.fs.Remove(b.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns every persisted entry.
func (b *FileBackend) List(ctx context.Context) ([]*Entry, error) {
	infos, err := afero.ReadDir(b.fs, b.dir)
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".journal") {
			continue
		}
		e, err := b.Load(ctx, strings.TrimSuffix(fi.Name(), ".journal"))
		if err != nil {
			// Skip torn writes rather than wedging startup.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+".journal")
}
