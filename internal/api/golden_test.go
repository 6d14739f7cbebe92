package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/FranksOps/serpd/internal/browser/httpdriver"
	"github.com/FranksOps/serpd/internal/fingerprint"
	"github.com/FranksOps/serpd/internal/search"
	"github.com/FranksOps/serpd/internal/serp"
	"github.com/FranksOps/serpd/pkg/jitter"
)

const fixtureHome = `<!doctype html><html><body>
<form action="/search" method="GET" role="search">
	<textarea name="q" title="Search"></textarea>
	<input type="hidden" name="source" value="hp">
	<input type="submit" name="btnK" value="Google Search">
</form>
</body></html>`

// newFixtureEngine serves a home page and the recorded results page for
// "openai"; any other query gets a page with no results container.
func newFixtureEngine(t *testing.T) *httptest.Server {
	t.Helper()
	results, err := os.ReadFile(filepath.Join("testdata", "openai_results.html"))
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixtureHome)
	})
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "openai" || r.URL.Query().Get("source") != "hp" {
			fmt.Fprint(w, `<html><body><p>Your search did not match any documents.</p></body></html>`)
			return
		}
		w.Write(results)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newFixtureAPI(t *testing.T) *httptest.Server {
	t.Helper()
	engine := newFixtureEngine(t)

	cfg := search.DefaultConfig()
	cfg.Launcher = httpdriver.New(httpdriver.Config{Fingerprint: fingerprint.ProfileGo}, nil)
	cfg.HomeURL = engine.URL
	cfg.ScreenshotPath = filepath.Join(t.TempDir(), "search-results.png")
	cfg.ResultsTimeout = time.Second
	cfg.Jitter = jitter.ZeroPolicy()
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }
	svc, err := search.NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ts := httptest.NewServer(NewServer(svc, Config{}, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestGolden_OpenAI(t *testing.T) {
	ts := newFixtureAPI(t)

	resp, err := http.Post(ts.URL+"/api/search", "application/json", strings.NewReader(`{"searchQuery":"openai"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got serp.Response
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join("testdata", "openai.golden.json"))
	if err != nil {
		t.Fatal(err)
	}
	var want serp.Response
	if err := json.Unmarshal(raw, &want); err != nil {
		t.Fatalf("golden: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if len(got.Results) > serp.MaxResults {
		t.Errorf("expected at most %d results, got %d", serp.MaxResults, len(got.Results))
	}
}

func TestGolden_NoResultsContainer(t *testing.T) {
	ts := newFixtureAPI(t)

	resp, err := http.Post(ts.URL+"/api/search", "application/json", strings.NewReader(`{"searchQuery":"nothing here"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "An error occurred during the search" || body["details"] == "" {
		t.Errorf("unexpected body %v", body)
	}
}
