package outcome

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

var (
	_ Store  = (*FileStore)(nil)
	_ Pinger = (*FileStore)(nil)
)

// FileStore appends records as JSON lines to a local file. Safe for
// concurrent use within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store writing to path. The file is created on the
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends rec to the file.
func (fs *FileStore) Save(_ context.Context, rec Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("outcome: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("outcome: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("outcome: write: %w", err)
	}
	return nil
}

// Recent returns the last limit records in the file, newest first. Lines
// that do not decode are skipped. A missing file has no records.
func (fs *FileStore) Recent(_ context.Context, limit int) ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("outcome: open file: %w", err)
	}
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("outcome: read file: %w", err)
	}

	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	slices.Reverse(recs)
	return recs, nil
}

// Ping checks that the file, or the directory it will be created in, exists
// without reading any records.
func (fs *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		info, err = os.Stat(filepath.Dir(fs.path))
		if err == nil && !info.IsDir() {
			return fmt.Errorf("outcome: %s is not a directory", filepath.Dir(fs.path))
		}
		if err != nil {
			return fmt.Errorf("outcome: stat directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("outcome: stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("outcome: %s is a directory", fs.path)
	}
	return nil
}
