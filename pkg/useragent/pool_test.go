package useragent

import (
	"sync"
	"testing"
)

func TestPool_Fixed(t *testing.T) {
	p := NewPool(nil, ModeFixed)
	for i := 0; i < 3; i++ {
		if got := p.Pick(); got != DefaultPool[0] {
			t.Fatalf("expected %s, got %s", DefaultPool[0], got)
		}
	}
	if len(p.All()) != len(DefaultPool) {
		t.Errorf("expected pool length %d, got %d", len(DefaultPool), len(p.All()))
	}
}

func TestPool_Rotate(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"}, ModeRotate)
	for i, want := range []string{"A", "B", "C", "A"} {
		if got := p.Pick(); got != want {
			t.Errorf("pick %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestPool_Random(t *testing.T) {
	p := NewPool([]string{"A", "B"}, ModeRandom)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got := p.Pick()
		if got != "A" && got != "B" {
			t.Fatalf("unexpected UA: %s", got)
		}
		seen[got] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("expected to see both A and B randomly, seen: %v", seen)
	}
}

func TestPool_ConcurrentRotate(t *testing.T) {
	uas := []string{"X", "Y", "Z"}
	p := NewPool(uas, ModeRotate)

	const routines = 50
	const iterations = 300

	var wg sync.WaitGroup
	results := make(chan string, routines*iterations)
	for i := 0; i < routines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				results <- p.Pick()
			}
		}()
	}
	wg.Wait()
	close(results)

	counts := map[string]int{}
	for r := range results {
		counts[r]++
	}
	want := routines * iterations / len(uas)
	for _, ua := range uas {
		if counts[ua] != want {
			t.Errorf("expected %d hits for %s, got %d", want, ua, counts[ua])
		}
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeFixed, "fixed": ModeFixed, "Rotate": ModeRotate, " random ": ModeRandom}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("shuffle"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestPool_Empty(t *testing.T) {
	p := &Pool{uas: []string{}, mode: ModeRandom}
	if got := p.Pick(); got != "" {
		t.Errorf("expected empty string on empty pool, got %s", got)
	}
}
