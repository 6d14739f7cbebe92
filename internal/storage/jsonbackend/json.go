// Package jsonbackend appends search records to a newline-delimited JSON file.
package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FranksOps/serpd/internal/storage"
)

var _ storage.Backend = (*jsonBackend)(nil)

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens filePath for appending, creating it if needed.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("jsonbackend: open: %w", err)
	}
	return &jsonBackend{file: f}, nil
}

func (b *jsonBackend) Save(ctx context.Context, r *storage.SearchRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("jsonbackend: encode %s: %w", r.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("jsonbackend: write: %w", err)
	}
	return nil
}

// Query reads the whole file; the log is expected to stay small enough for
// that.
func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.SearchRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("jsonbackend: seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	var all []*storage.SearchRecord
	scanner := bufio.NewScanner(b.file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r storage.SearchRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("jsonbackend: decode: %w", err)
		}
		all = append(all, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonbackend: read: %w", err)
	}

	return filter.Apply(all), nil
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
