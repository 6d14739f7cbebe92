// Package storage defines the audit log of searches. Only the outcome of a
// search is recorded; results themselves are never stored or served back.
package storage

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SearchRecord is the audit entry for one search request.
type SearchRecord struct {
	ID          string        `json:"id"`
	Query       string        `json:"query"`
	Driver      string        `json:"driver"`
	Outcome     string        `json:"outcome"` // see metrics.Outcome*
	ResultCount int           `json:"result_count"`
	Challenge   string        `json:"challenge,omitempty"` // e.g. "GoogleSorry"
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewRecord returns a record with a fresh ID, stamped now.
func NewRecord(query, driver string) *SearchRecord {
	return &SearchRecord{
		ID:        uuid.NewString(),
		Query:     query,
		Driver:    driver,
		CreatedAt: time.Now().UTC(),
	}
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Query   string
	Outcome string
	Since   *time.Time
	Limit   int
	Offset  int
}

// Match reports whether r passes the filter's predicates. Limit and Offset
// are not considered.
func (f Filter) Match(r *SearchRecord) bool {
	if f.Query != "" && r.Query != f.Query {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Apply filters records in memory, orders them newest first and pages them.
// File backends use it where a database would do the work in SQL.
func (f Filter) Apply(records []*SearchRecord) []*SearchRecord {
	out := make([]*SearchRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*SearchRecord{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// Backend stores and queries search records.
type Backend interface {
	Save(ctx context.Context, record *SearchRecord) error
	Query(ctx context.Context, filter Filter) ([]*SearchRecord, error)
	Close() error
}
