// Package csvbackend appends search records to a CSV file that opens cleanly
// in a spreadsheet.
package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/serpd/internal/storage"
)

var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// columns defines the CSV column order.
var columns = []string{
	"id",
	"query",
	"driver",
	"outcome",
	"result_count",
	"challenge",
	"error",
	"duration_ms",
	"created_at",
}

// New opens filePath for appending and writes the header row to a new file.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: stat: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, r *storage.SearchRecord) error {
	row := []string{
		r.ID,
		r.Query,
		r.Driver,
		r.Outcome,
		strconv.Itoa(r.ResultCount),
		r.Challenge,
		r.Error,
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		r.CreatedAt.Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	w := csv.NewWriter(b.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("csvbackend: write: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csvbackend: write: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.SearchRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.SearchRecord{}, nil
		}
		return nil, fmt.Errorf("csvbackend: read header: %w", err)
	}

	var all []*storage.SearchRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: read: %w", err)
		}
		if len(row) != len(columns) {
			continue // skip malformed rows
		}

		count, _ := strconv.Atoi(row[4])
		durationMs, _ := strconv.ParseInt(row[7], 10, 64)
		createdAt, _ := time.Parse(time.RFC3339Nano, row[8])

		all = append(all, &storage.SearchRecord{
			ID:          row[0],
			Query:       row[1],
			Driver:      row[2],
			Outcome:     row[3],
			ResultCount: count,
			Challenge:   row[5],
			Error:       row[6],
			Duration:    time.Duration(durationMs) * time.Millisecond,
			CreatedAt:   createdAt,
		})
	}

	return filter.Apply(all), nil
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
