package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/FranksOps/serpd/internal/browser"
	"github.com/FranksOps/serpd/internal/browser/browsertest"
	"github.com/FranksOps/serpd/internal/metrics"
	"github.com/FranksOps/serpd/internal/serp"
	"github.com/FranksOps/serpd/internal/storage"
	"github.com/FranksOps/serpd/pkg/jitter"
	"github.com/FranksOps/serpd/pkg/proxy"
	"github.com/FranksOps/serpd/pkg/useragent"
)

const resultsPage = `<html><body><div id="search">
<div class="g"><a href="https://go.dev/"><h3> The Go Programming Language </h3></a><div class="VwiC3b">Build simple, secure systems.</div></div>
<div class="g"><a data-ved="1" href="/url?q=x"><h3>Relative</h3></a></div>
</div></body></html>`

type memStore struct {
	mu      sync.Mutex
	records []*storage.SearchRecord
}

func (m *memStore) Save(ctx context.Context, r *storage.SearchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) Query(ctx context.Context, f storage.Filter) ([]*storage.SearchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f.Apply(m.records), nil
}

func (m *memStore) Close() error { return nil }

func newTestService(t *testing.T, l *browsertest.Launcher, mutate func(*Config)) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Launcher = l
	cfg.Jitter = jitter.ZeroPolicy()
	cfg.Rand = jitter.NewSource(1)
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func onlyPage(t *testing.T, l *browsertest.Launcher) (*browsertest.Browser, *browsertest.Page) {
	t.Helper()
	browsers := l.Browsers()
	if len(browsers) != 1 {
		t.Fatalf("expected one browser, got %d", len(browsers))
	}
	pages := browsers[0].Pages()
	if len(pages) != 1 {
		t.Fatalf("expected one page, got %d", len(pages))
	}
	return browsers[0], pages[0]
}

func TestNewService_RequiresLauncher(t *testing.T) {
	if _, err := NewService(DefaultConfig(), nil); err == nil {
		t.Fatal("expected error without a launcher")
	}
}

func TestNewService_InvalidRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Launcher = &browsertest.Launcher{}
	cfg.Rules.Containers = []string{"div[["}
	if _, err := NewService(cfg, nil); err == nil {
		t.Fatal("expected error for an invalid selector")
	}
}

func TestSearch_EmptyQueryDoesNotLaunch(t *testing.T) {
	l := &browsertest.Launcher{}
	store := &memStore{}
	svc := newTestService(t, l, func(c *Config) { c.Store = store })

	_, err := svc.Search(context.Background(), "")
	if !errors.Is(err, ErrQueryRequired) {
		t.Fatalf("expected ErrQueryRequired, got %v", err)
	}
	if n := l.Launches(); n != 0 {
		t.Errorf("expected no launches, got %d", n)
	}
	if len(store.records) != 1 || store.records[0].Outcome != metrics.OutcomeValidation {
		t.Errorf("expected one validation record, got %+v", store.records)
	}
}

func TestSearch_StepOrder(t *testing.T) {
	l := &browsertest.Launcher{HTML: resultsPage, PageURL: "https://www.google.com/search?q=ok"}
	svc := newTestService(t, l, nil)
	rules := serp.DefaultRules()

	resp, err := svc.Search(context.Background(), "ok")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	b, page := onlyPage(t, l)
	want := []string{
		"useragent " + useragent.DefaultPool[0],
		"viewport 1920 1080",
		"headers 2",
		"navigate " + DefaultHomeURL,
		"mouse",
		"waitfor " + rules.Input,
		"click " + rules.Input,
		"type o",
		"type k",
		"press Enter",
		"waitfor " + rules.Ready,
		"html",
		"url",
		"screenshot " + DefaultScreenshotPath,
	}
	if diff := cmp.Diff(want, page.Calls()); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	if b.Closes() != 1 {
		t.Errorf("expected browser closed once, got %d", b.Closes())
	}

	opts := l.Options()[0]
	if opts.WindowWidth != 1920 || opts.WindowHeight != 1080 || opts.Proxy != nil {
		t.Errorf("unexpected launch options %+v", opts)
	}

	if resp.SearchQuery != "ok" || len(resp.Results) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	first := resp.Results[0]
	if first.Title != "The Go Programming Language" || *first.Link != "https://go.dev/" {
		t.Errorf("unexpected first result %+v", first)
	}
	if got := *resp.Results[1].Link; got != "https://www.google.com/url?q=x" {
		t.Errorf("expected link resolved against the page url, got %s", got)
	}
}

func TestSearch_TypesOneRuneAtATime(t *testing.T) {
	l := &browsertest.Launcher{HTML: resultsPage}
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	svc := newTestService(t, l, func(c *Config) {
		c.Jitter = jitter.Policy{KeyDelay: jitter.Fixed(time.Millisecond), KeyPause: jitter.Fixed(2 * time.Millisecond)}
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return nil
		}
	})

	query := "café go"
	if _, err := svc.Search(context.Background(), query); err != nil {
		t.Fatalf("Search: %v", err)
	}

	_, page := onlyPage(t, l)
	if page.Typed() != query {
		t.Errorf("expected %q typed, got %q", query, page.Typed())
	}
	var types int
	for _, c := range page.Calls() {
		if strings.HasPrefix(c, "type ") {
			types++
		}
	}
	if runes := len([]rune(query)); types != runes {
		t.Errorf("expected %d type calls, got %d", runes, types)
	}
	if len(sleeps) != 2*len([]rune(query)) {
		t.Errorf("expected two pauses per character, got %d", len(sleeps))
	}
}

func TestSearch_ResultsTimeout(t *testing.T) {
	rules := serp.DefaultRules()
	l := &browsertest.Launcher{Missing: []string{rules.Ready}, HTML: "<html><body>nothing</body></html>"}
	store := &memStore{}
	svc := newTestService(t, l, func(c *Config) { c.Store = store })

	resp, err := svc.Search(context.Background(), "openai")
	if resp != nil {
		t.Errorf("expected no partial response, got %+v", resp)
	}

	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if se.Step != "results" || !se.Timeout() || se.Challenge != "" {
		t.Errorf("unexpected step error %+v", se)
	}
	if !browser.IsTimeout(err) {
		t.Error("expected browser.IsTimeout to see through StepError")
	}
	if Outcome(err) != metrics.OutcomeTimeout {
		t.Errorf("expected timeout outcome, got %s", Outcome(err))
	}

	b, page := onlyPage(t, l)
	if b.Closes() != 1 {
		t.Errorf("expected browser closed once, got %d", b.Closes())
	}
	for _, c := range page.Calls() {
		if strings.HasPrefix(c, "screenshot") {
			t.Error("screenshot taken after timeout")
		}
	}
	if len(store.records) != 1 || store.records[0].Outcome != metrics.OutcomeTimeout {
		t.Errorf("expected one timeout record, got %+v", store.records)
	}
}

func TestSearch_ChallengeNamed(t *testing.T) {
	rules := serp.DefaultRules()
	l := &browsertest.Launcher{
		Missing: []string{rules.Ready},
		PageURL: "https://www.google.com/sorry/index?continue=x",
		HTML:    `<html><body><form id="captcha-form"></form></body></html>`,
	}
	store := &memStore{}
	svc := newTestService(t, l, func(c *Config) { c.Store = store })

	_, err := svc.Search(context.Background(), "openai")
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if se.Challenge != "GoogleSorry" {
		t.Errorf("expected GoogleSorry challenge, got %q", se.Challenge)
	}
	if !strings.Contains(err.Error(), "blocked by GoogleSorry challenge") {
		t.Errorf("expected challenge in message, got %q", err.Error())
	}
	if Outcome(err) != metrics.OutcomeChallenge {
		t.Errorf("expected challenge outcome, got %s", Outcome(err))
	}
	if store.records[0].Challenge != "GoogleSorry" {
		t.Errorf("expected challenge recorded, got %+v", store.records[0])
	}
}

func TestSearch_LaunchFailure(t *testing.T) {
	l := &browsertest.Launcher{LaunchErr: errors.New("no chrome")}
	svc := newTestService(t, l, nil)

	_, err := svc.Search(context.Background(), "openai")
	var se *StepError
	if !errors.As(err, &se) || se.Step != "launch" {
		t.Fatalf("expected launch step error, got %v", err)
	}
	if Outcome(err) != metrics.OutcomeError {
		t.Errorf("expected error outcome, got %s", Outcome(err))
	}
}

func TestSearch_NavigateFailureClosesBrowser(t *testing.T) {
	l := &browsertest.Launcher{Fail: map[string]error{"navigate": errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	svc := newTestService(t, l, nil)

	_, err := svc.Search(context.Background(), "openai")
	if err == nil || !strings.Contains(err.Error(), "navigate: net::ERR_NAME_NOT_RESOLVED") {
		t.Fatalf("expected navigate error, got %v", err)
	}
	b, page := onlyPage(t, l)
	if b.Closes() != 1 {
		t.Errorf("expected browser closed once, got %d", b.Closes())
	}
	if calls := page.Calls(); calls[len(calls)-1] != "navigate "+DefaultHomeURL {
		t.Errorf("expected no steps after navigate, got %v", calls)
	}
}

func TestSearch_ScreenshotFailureIsNotFatal(t *testing.T) {
	l := &browsertest.Launcher{
		HTML: resultsPage,
		Fail: map[string]error{"screenshot": browser.ErrUnsupported},
	}
	svc := newTestService(t, l, nil)

	resp, err := svc.Search(context.Background(), "go")
	if err != nil {
		t.Fatalf("expected success despite screenshot failure, got %v", err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(resp.Results))
	}
}

func TestSearch_ScreenshotDisabled(t *testing.T) {
	l := &browsertest.Launcher{HTML: resultsPage}
	svc := newTestService(t, l, func(c *Config) { c.ScreenshotPath = "" })

	if _, err := svc.Search(context.Background(), "go"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	_, page := onlyPage(t, l)
	for _, c := range page.Calls() {
		if strings.HasPrefix(c, "screenshot") {
			t.Error("unexpected screenshot")
		}
	}
}

func TestSearch_CanceledContextStillCompletes(t *testing.T) {
	l := &browsertest.Launcher{HTML: resultsPage}
	svc := newTestService(t, l, func(c *Config) {
		c.Jitter = jitter.Policy{Settle: jitter.Fixed(time.Millisecond)}
		c.Sleep = jitter.Sleep
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Search(ctx, "go"); err != nil {
		t.Fatalf("expected search to ignore caller cancellation, got %v", err)
	}
}

func TestSearch_ProxyFeedback(t *testing.T) {
	pool := proxy.NewPool(proxy.Config{MaxFailures: 1, Cooldown: time.Hour})
	if err := pool.Add("http://p1:8080"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	l := &browsertest.Launcher{Fail: map[string]error{"navigate": errors.New("proxy refused")}}
	svc := newTestService(t, l, func(c *Config) { c.ProxyPool = pool })

	if _, err := svc.Search(context.Background(), "go"); err == nil {
		t.Fatal("expected failure")
	}
	if got := l.Options()[0].Proxy; got == nil || got.Host != "p1:8080" {
		t.Fatalf("expected launch through p1, got %v", got)
	}
	if pool.Next() != nil {
		t.Error("expected proxy benched after its only allowed failure")
	}

	if _, err := svc.Search(context.Background(), "go"); err == nil {
		t.Fatal("expected failure")
	}
	if got := l.Options()[1].Proxy; got != nil {
		t.Errorf("expected direct connection while benched, got %v", got)
	}
}

func TestSearch_UserAgentRotation(t *testing.T) {
	l := &browsertest.Launcher{HTML: resultsPage}
	uas := []string{"ua-one", "ua-two"}
	svc := newTestService(t, l, func(c *Config) { c.UAPool = useragent.NewPool(uas, useragent.ModeRotate) })

	for range 3 {
		if _, err := svc.Search(context.Background(), "go"); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	var got []string
	for _, o := range l.Options() {
		got = append(got, o.UserAgent)
	}
	if diff := cmp.Diff([]string{"ua-one", "ua-two", "ua-one"}, got); diff != "" {
		t.Errorf("user agent mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_RecordsSuccess(t *testing.T) {
	l := &browsertest.Launcher{HTML: resultsPage}
	store := &memStore{}
	svc := newTestService(t, l, func(c *Config) { c.Store = store })

	if _, err := svc.Search(context.Background(), "go"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	recs, _ := store.Query(context.Background(), storage.Filter{})
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	r := recs[0]
	if r.Query != "go" || r.Driver != "fake" || r.Outcome != metrics.OutcomeSuccess || r.ResultCount != 2 || r.Error != "" {
		t.Errorf("unexpected record %+v", r)
	}
}
