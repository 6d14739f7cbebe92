// Package chrome drives a headless Chrome instance through the DevTools
// protocol using chromedp.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/FranksOps/serpd/internal/browser"
)

// Config controls how Chrome is launched.
type Config struct {
	// ExecPath overrides Chrome discovery when set.
	ExecPath string
	// Headless runs Chrome without a window. Disable only for local debugging.
	Headless bool
	// ActionTimeout bounds operations that have no explicit timeout of their
	// own, such as clicks, so a vanished element cannot hang a request.
	ActionTimeout time.Duration
}

// Launcher starts one Chrome process per Launch call.
type Launcher struct {
	cfg    Config
	logger *slog.Logger
}

var _ browser.Launcher = (*Launcher)(nil)

// New returns a Launcher. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Launcher {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

func (l *Launcher) Name() string { return "chrome" }

// allocatorOptions returns the command line for a Chrome process that gives
// away as little as possible about being automated.
func (l *Launcher) allocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.DisableGPU,
		chromedp.WindowSize(width, height),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Proxy != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy.String()))
	}
	if l.cfg.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return allocOpts
}

// Launch starts Chrome and opens its first tab. On error no process is left
// running.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(opts)...)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.cdpLog),
		chromedp.WithErrorf(l.cdpLog),
	)

	// The first Run starts the process; it must use the tab context itself so
	// the process is not tied to a shorter-lived derived context.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome: start: %w", err)
	}

	return &Browser{
		cfg:         l.cfg,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
	}, nil
}

func (l *Launcher) cdpLog(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
}

// Browser is a running Chrome process.
type Browser struct {
	cfg         Config
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu       sync.Mutex
	usedMain bool
	tabs     []context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewPage returns the initial tab on first use and opens new tabs afterwards.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.usedMain {
		b.usedMain = true
		return &Page{ctx: b.ctx, actionTimeout: b.cfg.ActionTimeout}, nil
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("chrome: open tab: %w", err)
	}
	b.tabs = append(b.tabs, cancel)
	return &Page{ctx: tabCtx, actionTimeout: b.cfg.ActionTimeout}, nil
}

// Close shuts Chrome down and kills the process. It is safe to call more than
// once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		for _, cancel := range b.tabs {
			cancel()
		}
		b.mu.Unlock()

		// Cancel asks the browser to close gracefully before the allocator
		// kills whatever is left.
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("chrome: close: %w", err)
		}
		b.cancel()
		b.allocCancel()
	})
	return b.closeErr
}

// Page is one Chrome tab.
type Page struct {
	ctx           context.Context
	actionTimeout time.Duration
}

// scope derives a context that runs actions on this tab while honouring both
// the caller's cancellation and timeout.
func (p *Page) scope(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = p.actionTimeout
	}
	c, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, step, selector string, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.actionTimeout
	}
	c, cancel := p.scope(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(c, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(c.Err(), context.DeadlineExceeded) {
			return &browser.TimeoutError{Step: step, Selector: selector, Timeout: timeout, Err: err}
		}
		return fmt.Errorf("chrome: %s: %w", step, err)
	}
	return nil
}

func (p *Page) SetUserAgent(ctx context.Context, ua string) error {
	return p.run(ctx, "set user agent", "", 0, emulation.SetUserAgentOverride(ua))
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, "set viewport", "", 0,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	)
}

func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return p.run(ctx, "set headers", "", 0,
		network.Enable(),
		network.SetExtraHTTPHeaders(h),
	)
}

// Navigate loads rawURL and returns once the network has gone idle, not at
// the load event, so late XHR-rendered content is present.
func (p *Page) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	return p.run(ctx, "navigate", "", timeout, navigateIdle(rawURL))
}

func navigateIdle(rawURL string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		// Lifecycle events may arrive before Page.navigate returns the
		// loader id, so they are buffered and matched afterwards.
		idle := make(chan cdp.LoaderID, 32)
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(lctx, func(ev any) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- e.LoaderID:
				default:
				}
			}
		})

		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}
		_, loaderID, errorText, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}

		for {
			select {
			case id := <-idle:
				if id == loaderID {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	return p.run(ctx, "move mouse", "", 0, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, "wait", selector, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, "click", selector, 0, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, "type", selector, 0, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// keys maps the key names callers use to chromedp key codes.
var keys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
}

func (p *Page) Press(ctx context.Context, key string) error {
	code, ok := keys[key]
	if !ok {
		code = key
	}
	return p.run(ctx, "press "+key, "", 0, chromedp.KeyEvent(code))
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, "read html", "", 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, "read location", "", 0, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, "screenshot", "", 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("chrome: write screenshot: %w", err)
	}
	return nil
}
