// Package browsertest provides an in-memory browser.Launcher that records
// every call, for testing code that drives a browser.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/serpd/internal/browser"
)

// Launcher is a scriptable fake. Configure its exported fields before use;
// they are shared by every browser it launches.
type Launcher struct {
	// LaunchErr fails every Launch call.
	LaunchErr error
	// HTML and PageURL are returned by every page.
	HTML    string
	PageURL string
	// Fail maps an operation name ("navigate", "click", "screenshot", ...) to
	// the error it returns.
	Fail map[string]error
	// Missing lists selectors that never appear; WaitFor on them returns a
	// *browser.TimeoutError.
	Missing []string

	mu       sync.Mutex
	launches int
	opts     []browser.LaunchOptions
	browsers []*Browser
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) Name() string { return "fake" }

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches++
	l.opts = append(l.opts, opts)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}

	b := &Browser{launcher: l}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Launches returns how many times Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Options returns the LaunchOptions of every Launch call.
func (l *Launcher) Options() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.opts...)
}

// Browsers returns every successfully launched browser.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Browser records its pages and how often it was closed.
type Browser struct {
	launcher *Launcher

	mu     sync.Mutex
	closes int
	pages  []*Page
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := b.launcher.fail("newpage"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Page{launcher: b.launcher}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closes++
	b.mu.Unlock()
	return b.launcher.fail("close")
}

// Closes returns how many times Close was called.
func (b *Browser) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// Pages returns the pages opened on this browser.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Page records every call as "op arg1 arg2".
type Page struct {
	launcher *Launcher

	mu    sync.Mutex
	calls []string
	typed strings.Builder
}

func (p *Page) record(op string, args ...any) error {
	call := op
	for _, a := range args {
		call += " " + fmt.Sprint(a)
	}
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	return p.launcher.fail(op)
}

// Calls returns the recorded calls in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Typed returns everything sent through Type.
func (p *Page) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed.String()
}

func (p *Page) SetUserAgent(ctx context.Context, ua string) error {
	return p.record("useragent", ua)
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	return p.record("viewport", width, height)
}

func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	return p.record("headers", len(headers))
}

func (p *Page) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	return p.record("navigate", rawURL)
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	return p.record("mouse")
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.record("waitfor", selector); err != nil {
		return err
	}
	for _, m := range p.launcher.Missing {
		if m == selector {
			return &browser.TimeoutError{
				Step:     "wait",
				Selector: selector,
				Timeout:  timeout,
				Err:      context.DeadlineExceeded,
			}
		}
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.record("click", selector)
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := p.record("type", text); err != nil {
		return err
	}
	p.mu.Lock()
	p.typed.WriteString(text)
	p.mu.Unlock()
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	return p.record("press", key)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.record("html"); err != nil {
		return "", err
	}
	return p.launcher.HTML, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.record("url"); err != nil {
		return "", err
	}
	return p.launcher.PageURL, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	return p.record("screenshot", path)
}

func (l *Launcher) fail(op string) error {
	if l.Fail == nil {
		return nil
	}
	return l.Fail[op]
}
