// Package storagetest checks that a storage.Backend honours the Backend
// contract. Each backend's tests run it against a fresh instance.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/serpd/internal/storage"
)

// Exercise saves a fixed set of records into an empty backend and verifies
// round-tripping, ordering, filtering and paging.
func Exercise(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	records := []*storage.SearchRecord{
		{ID: "r1", Query: "openai", Driver: "chrome", Outcome: "success", ResultCount: 9, Duration: 4200 * time.Millisecond, CreatedAt: base},
		{ID: "r2", Query: "golang", Driver: "http", Outcome: "timeout", Error: `wait: timed out after 10s waiting for "#search"`, Duration: 12 * time.Second, CreatedAt: base.Add(time.Minute)},
		{ID: "r3", Query: "openai", Driver: "chrome", Outcome: "challenge", Challenge: "GoogleSorry", Error: "blocked, with a comma", Duration: 11 * time.Second, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		if err := b.Save(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].ID != "r3" || all[2].ID != "r1" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	got := all[0]
	want := records[2]
	if got.Query != want.Query || got.Driver != want.Driver || got.Outcome != want.Outcome {
		t.Errorf("identity fields mismatch: got %+v", got)
	}
	if got.Challenge != want.Challenge || got.Error != want.Error {
		t.Errorf("expected challenge %q and error %q, got %q and %q", want.Challenge, want.Error, got.Challenge, got.Error)
	}
	if got.Duration.Milliseconds() != want.Duration.Milliseconds() {
		t.Errorf("expected duration %v, got %v", want.Duration, got.Duration)
	}
	if got.CreatedAt.Unix() != want.CreatedAt.Unix() {
		t.Errorf("expected created_at %v, got %v", want.CreatedAt, got.CreatedAt)
	}
	if all[2].ResultCount != 9 {
		t.Errorf("expected result count 9, got %d", all[2].ResultCount)
	}

	byQuery, err := b.Query(ctx, storage.Filter{Query: "openai"})
	if err != nil {
		t.Fatalf("query by query: %v", err)
	}
	if len(byQuery) != 2 {
		t.Errorf("expected 2 openai records, got %d", len(byQuery))
	}

	byOutcome, err := b.Query(ctx, storage.Filter{Outcome: "timeout"})
	if err != nil {
		t.Fatalf("query by outcome: %v", err)
	}
	if len(byOutcome) != 1 || byOutcome[0].ID != "r2" {
		t.Errorf("expected only r2 for timeout, got %v", byOutcome)
	}

	since := base.Add(30 * time.Second)
	recent, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 records since %v, got %d", since, len(recent))
	}

	page, err := b.Query(ctx, storage.Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("query page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "r2" {
		t.Errorf("expected r2 on second page, got %v", page)
	}

	none, err := b.Query(ctx, storage.Filter{Query: "nothing"})
	if err != nil {
		t.Fatalf("query none: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records, got %d", len(none))
	}
}
