// Package search runs one scripted Google search per request in a browser it
// launches for that request alone.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/serpd/internal/browser"
	"github.com/FranksOps/serpd/internal/bypass"
	"github.com/FranksOps/serpd/internal/metrics"
	"github.com/FranksOps/serpd/internal/serp"
	"github.com/FranksOps/serpd/internal/storage"
	"github.com/FranksOps/serpd/pkg/jitter"
	"github.com/FranksOps/serpd/pkg/proxy"
	"github.com/FranksOps/serpd/pkg/useragent"
)

const (
	DefaultHomeURL        = "https://www.google.com"
	DefaultScreenshotPath = "search-results.png"

	windowWidth  = 1920
	windowHeight = 1080
)

// DefaultHeaders are sent with every request the page makes.
var DefaultHeaders = map[string]string{
	"Accept-Language": "en-US,en;q=0.9",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
}

// Config wires a Service.
type Config struct {
	Launcher browser.Launcher
	Rules    serp.RuleSet

	HomeURL string
	// ScreenshotPath receives a capture of every results page. Empty disables
	// screenshots.
	ScreenshotPath string

	NavigationTimeout time.Duration
	InputTimeout      time.Duration
	ResultsTimeout    time.Duration

	UAPool    *useragent.Pool
	ProxyPool *proxy.Pool

	Jitter jitter.Policy
	Rand   *jitter.Source
	Sleep  jitter.SleepFunc

	Detectors []bypass.Detector
	// Store receives an audit record per search when non-nil.
	Store storage.Backend
}

// DefaultConfig returns the timeouts, pacing and paths used in production.
// Launcher must still be set.
func DefaultConfig() Config {
	return Config{
		Rules:             serp.DefaultRules(),
		HomeURL:           DefaultHomeURL,
		ScreenshotPath:    DefaultScreenshotPath,
		NavigationTimeout: 30 * time.Second,
		InputTimeout:      5 * time.Second,
		ResultsTimeout:    10 * time.Second,
		Jitter:            jitter.DefaultPolicy(),
	}
}

// Service performs searches. It holds no per-search state and is safe for
// concurrent use; every call launches and closes its own browser.
type Service struct {
	cfg       Config
	extractor *serp.Extractor
	logger    *slog.Logger
}

// NewService validates cfg and compiles its rules.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.Launcher == nil {
		return nil, errors.New("search: launcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	extractor, err := serp.NewExtractor(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	def := DefaultConfig()
	if cfg.HomeURL == "" {
		cfg.HomeURL = def.HomeURL
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.InputTimeout <= 0 {
		cfg.InputTimeout = def.InputTimeout
	}
	if cfg.ResultsTimeout <= 0 {
		cfg.ResultsTimeout = def.ResultsTimeout
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil, useragent.ModeFixed)
	}
	if cfg.Rand == nil {
		cfg.Rand = jitter.NewSource(0)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = jitter.Sleep
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}

	return &Service{cfg: cfg, extractor: extractor, logger: logger}, nil
}

// Driver names the browser driver in use.
func (s *Service) Driver() string { return s.cfg.Launcher.Name() }

// Search runs the full interaction for query and returns at most
// serp.MaxResults results. A search that has started runs to completion even
// if ctx is canceled, so the browser is never abandoned mid-step.
func (s *Service) Search(ctx context.Context, query string) (*serp.Response, error) {
	start := time.Now()
	rec := storage.NewRecord(query, s.Driver())

	if query == "" {
		s.finish(ctx, rec, start, nil, ErrQueryRequired)
		return nil, ErrQueryRequired
	}

	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("search_id", rec.ID, "query", query, "driver", s.Driver())

	proxyURL := s.nextProxy()
	opts := browser.LaunchOptions{
		UserAgent:    s.cfg.UAPool.Pick(),
		WindowWidth:  windowWidth,
		WindowHeight: windowHeight,
		Proxy:        proxyURL,
	}

	log.Info("starting search", "proxy", proxyLabel(proxyURL))
	resp, err := s.run(ctx, log, query, opts)
	s.reportProxy(log, proxyURL, err)
	s.finish(ctx, rec, start, resp, err)

	if err != nil {
		log.Warn("search failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	log.Info("search completed", "results", len(resp.Results), "duration", time.Since(start))
	return resp, nil
}

func (s *Service) run(ctx context.Context, log *slog.Logger, query string, opts browser.LaunchOptions) (*serp.Response, error) {
	b, err := s.cfg.Launcher.Launch(ctx, opts)
	if err != nil {
		return nil, &StepError{Step: "launch", Err: err}
	}
	metrics.RecordLaunch(s.Driver())
	log.Debug("browser launched")

	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("closing browser", "error", err)
			return
		}
		log.Debug("browser closed")
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, &StepError{Step: "new page", Err: err}
	}

	if err := s.prepare(ctx, page, opts.UserAgent); err != nil {
		return nil, err
	}
	if err := s.enterQuery(ctx, page, query); err != nil {
		return nil, err
	}
	log.Debug("query submitted")

	if err := page.WaitFor(ctx, s.cfg.Rules.Ready, s.cfg.ResultsTimeout); err != nil {
		return nil, s.blocked(ctx, page, "results", err)
	}
	if err := s.pause(ctx, "settle", s.cfg.Jitter.Settle); err != nil {
		return nil, err
	}

	results, err := s.extract(ctx, page)
	if err != nil {
		return nil, err
	}
	log.Debug("results extracted", "count", len(results))

	if path := s.cfg.ScreenshotPath; path != "" {
		if err := page.Screenshot(ctx, path); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, browser.ErrUnsupported) {
				level = slog.LevelDebug
			}
			log.Log(ctx, level, "screenshot skipped", "path", path, "error", err)
		} else {
			log.Debug("screenshot saved", "path", path)
		}
	}

	return serp.NewResponse(query, results), nil
}

// prepare sets the page identity and loads the home page.
func (s *Service) prepare(ctx context.Context, page browser.Page, ua string) error {
	if ua != "" {
		if err := page.SetUserAgent(ctx, ua); err != nil {
			return &StepError{Step: "user agent", Err: err}
		}
	}
	if err := page.SetViewport(ctx, windowWidth, windowHeight); err != nil {
		return &StepError{Step: "viewport", Err: err}
	}
	if err := page.SetExtraHeaders(ctx, DefaultHeaders); err != nil {
		return &StepError{Step: "headers", Err: err}
	}
	if err := page.Navigate(ctx, s.cfg.HomeURL, s.cfg.NavigationTimeout); err != nil {
		return &StepError{Step: "navigate", Err: err}
	}
	return nil
}

// enterQuery moves the pointer, focuses the query box, types query one
// character at a time and submits it.
func (s *Service) enterQuery(ctx context.Context, page browser.Page, query string) error {
	x, y := s.cfg.Rand.Point(s.cfg.Jitter)
	if err := page.MoveMouse(ctx, x, y); err != nil {
		return &StepError{Step: "mouse", Err: err}
	}
	if err := s.pause(ctx, "mouse", s.cfg.Jitter.MouseSettle); err != nil {
		return err
	}

	input := s.cfg.Rules.Input
	if err := page.WaitFor(ctx, input, s.cfg.InputTimeout); err != nil {
		return s.blocked(ctx, page, "search input", err)
	}
	if err := page.Click(ctx, input); err != nil {
		return &StepError{Step: "click", Err: err}
	}
	if err := s.pause(ctx, "click", s.cfg.Jitter.ClickSettle); err != nil {
		return err
	}

	for _, r := range query {
		if err := page.Type(ctx, input, string(r)); err != nil {
			return &StepError{Step: "type", Err: err}
		}
		if err := s.pause(ctx, "type", s.cfg.Jitter.KeyDelay); err != nil {
			return err
		}
		if err := s.pause(ctx, "type", s.cfg.Jitter.KeyPause); err != nil {
			return err
		}
	}

	if err := s.pause(ctx, "submit", s.cfg.Jitter.BeforeSubmit); err != nil {
		return err
	}
	if err := page.Press(ctx, "Enter"); err != nil {
		return &StepError{Step: "submit", Err: err}
	}
	return nil
}

func (s *Service) extract(ctx context.Context, page browser.Page) ([]serp.Result, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, &StepError{Step: "read page", Err: err}
	}
	var base *url.URL
	if raw, err := page.URL(ctx); err == nil {
		base, _ = url.Parse(raw)
	}
	results, err := s.extractor.ExtractHTML(strings.NewReader(html), base)
	if err != nil {
		return nil, &StepError{Step: "extract", Err: err}
	}
	return results, nil
}

// blocked wraps a failed wait, naming the challenge page if one is showing.
func (s *Service) blocked(ctx context.Context, page browser.Page, step string, err error) error {
	se := &StepError{Step: step, Err: err}
	if !browser.IsTimeout(err) {
		return se
	}

	html, herr := page.HTML(ctx)
	if herr != nil {
		return se
	}
	pageURL, _ := page.URL(ctx)
	if src, ok := bypass.Analyze(&bypass.Snapshot{URL: pageURL, HTML: html}, s.cfg.Detectors); ok {
		se.Challenge = src
	}
	return se
}

func (s *Service) pause(ctx context.Context, step string, r jitter.Range) error {
	d := s.cfg.Rand.Duration(r)
	if d <= 0 {
		return nil
	}
	if err := s.cfg.Sleep(ctx, d); err != nil {
		return &StepError{Step: step, Err: err}
	}
	return nil
}

func (s *Service) nextProxy() *url.URL {
	if s.cfg.ProxyPool == nil {
		return nil
	}
	return s.cfg.ProxyPool.Next()
}

func (s *Service) reportProxy(log *slog.Logger, proxyURL *url.URL, err error) {
	if proxyURL == nil {
		return
	}
	if err == nil {
		_ = s.cfg.ProxyPool.MarkSuccess(proxyURL)
		return
	}
	metrics.RecordProxyFailure(proxyURL)
	if disabled, _ := s.cfg.ProxyPool.MarkFailure(proxyURL); disabled {
		log.Warn("proxy benched after repeated failures", "proxy", proxyLabel(proxyURL))
	}
}

// finish classifies the outcome and reports it to metrics and the audit log.
func (s *Service) finish(ctx context.Context, rec *storage.SearchRecord, start time.Time, resp *serp.Response, err error) {
	rec.Duration = time.Since(start)
	rec.Outcome = Outcome(err)
	if resp != nil {
		rec.ResultCount = len(resp.Results)
	}
	if err != nil {
		rec.Error = err.Error()
		var se *StepError
		if errors.As(err, &se) && se.Challenge != "" {
			rec.Challenge = se.Challenge
			metrics.RecordChallenge(se.Challenge)
		}
	}

	metrics.RecordSearch(rec.Driver, rec.Outcome, rec.Duration, rec.ResultCount)

	if s.cfg.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.cfg.Store.Save(saveCtx, rec); err != nil {
		s.logger.Error("saving search record", "search_id", rec.ID, "error", err)
	}
}

// Outcome maps a Search error to its metrics and audit label.
func Outcome(err error) string {
	var se *StepError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrQueryRequired):
		return metrics.OutcomeValidation
	case errors.As(err, &se) && se.Challenge != "":
		return metrics.OutcomeChallenge
	case browser.IsTimeout(err):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

func proxyLabel(u *url.URL) string {
	if u == nil {
		return "direct"
	}
	return u.Scheme + "://" + u.Host
}
