// Package httpdriver emulates the browser interaction over plain HTTP. It
// keeps the parsed page in memory, tracks the focused form field and submits
// forms the way a browser would when Enter is pressed. No JavaScript runs, so
// it only works against pages whose search form degrades to a plain GET.
package httpdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/serpd/internal/browser"
	"github.com/FranksOps/serpd/internal/fingerprint"
	"github.com/FranksOps/serpd/pkg/httpclient"
)

// maxBody caps how much of a response is read into memory.
const maxBody = 10 << 20

// Config controls the HTTP session.
type Config struct {
	Fingerprint fingerprint.Profile
	// Timeout bounds each request that has no explicit timeout of its own.
	Timeout time.Duration
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// Launcher creates one cookie-isolated HTTP session per Launch.
type Launcher struct {
	cfg    Config
	logger *slog.Logger
}

var _ browser.Launcher = (*Launcher)(nil)

// New returns a Launcher. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

func (l *Launcher) Name() string { return "http" }

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	var proxyFunc func(*http.Request) (*url.URL, error)
	if opts.Proxy != nil {
		proxyFunc = http.ProxyURL(opts.Proxy)
	}

	rt, err := fingerprint.Transport(fingerprint.Options{
		Profile:            l.cfg.Fingerprint,
		Proxy:              proxyFunc,
		InsecureSkipVerify: l.cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("httpdriver: transport: %w", err)
	}

	header := http.Header{}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:      l.cfg.Timeout,
		MaxRedirects: 10,
		UseCookieJar: true,
		Transport:    rt,
		Header:       header,
	})
	if err != nil {
		return nil, fmt.Errorf("httpdriver: client: %w", err)
	}

	return &Browser{client: client, logger: l.logger}, nil
}

// Browser is one HTTP session. Pages share its cookie jar.
type Browser struct {
	client *httpclient.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("httpdriver: browser is closed")
	}
	return &Page{client: b.client, logger: b.logger}, nil
}

// Close drops idle connections. It is safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.client.CloseIdleConnections()
	return nil
}

// Page holds the last loaded document.
type Page struct {
	client *httpclient.Client
	logger *slog.Logger

	mu      sync.Mutex
	doc     *goquery.Document
	url     *url.URL
	focused *goquery.Selection
}

func (p *Page) SetUserAgent(ctx context.Context, ua string) error {
	p.client.SetHeader("User-Agent", ua)
	return nil
}

// SetViewport is a no-op; there is no layout.
func (p *Page) SetViewport(ctx context.Context, width, height int) error { return nil }

func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	for k, v := range headers {
		p.client.SetHeader(k, v)
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target, err := p.resolve(rawURL)
	if err != nil {
		return fmt.Errorf("httpdriver: navigate: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("httpdriver: navigate: %w", err)
	}
	if err := p.load(ctx, req); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &browser.TimeoutError{Step: "navigate", Timeout: timeout, Err: err}
		}
		return err
	}
	return nil
}

// MoveMouse is a no-op; there is no pointer.
func (p *Page) MoveMouse(ctx context.Context, x, y float64) error { return nil }

// WaitFor checks the static document once. Nothing can appear later without
// scripts, so an absent selector fails immediately as a timeout.
func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc != nil && p.doc.Find(selector).Length() > 0 {
		return nil
	}
	return &browser.TimeoutError{
		Step:     "wait",
		Selector: selector,
		Timeout:  timeout,
		Err:      context.DeadlineExceeded,
	}
}

// Click focuses form fields, follows links and submits forms through their
// submit buttons.
func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, err := p.find(selector)
	if err != nil {
		return fmt.Errorf("httpdriver: click: %w", err)
	}

	switch {
	case el.Is("a[href]"):
		href, _ := el.Attr("href")
		target, err := p.resolve(href)
		if err != nil {
			return fmt.Errorf("httpdriver: click: %w", err)
		}
		req, err := http.NewRequest(http.MethodGet, target.String(), nil)
		if err != nil {
			return fmt.Errorf("httpdriver: click: %w", err)
		}
		return p.load(ctx, req)
	case isSubmitter(el):
		return p.submit(ctx, el.Closest("form"), el)
	default:
		p.focused = el
		return nil
	}
}

// Type appends text to the value of the element matched by selector and
// focuses it.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, err := p.find(selector)
	if err != nil {
		return fmt.Errorf("httpdriver: type: %w", err)
	}
	el.SetAttr("value", fieldValue(el)+text)
	p.focused = el
	return nil
}

// Press handles Enter by submitting the focused field's form. Other keys are
// ignored.
func (p *Page) Press(ctx context.Context, key string) error {
	if key != "Enter" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.focused == nil {
		return errors.New("httpdriver: press Enter: no focused element")
	}
	form := p.focused.Closest("form")
	if form.Length() == 0 {
		return errors.New("httpdriver: press Enter: focused element is not in a form")
	}
	return p.submit(ctx, form, nil)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		return "", errors.New("httpdriver: no document loaded")
	}
	html, err := p.doc.Html()
	if err != nil {
		return "", fmt.Errorf("httpdriver: render html: %w", err)
	}
	return html, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.url == nil {
		return "about:blank", nil
	}
	return p.url.String(), nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	return fmt.Errorf("httpdriver: screenshot: %w", browser.ErrUnsupported)
}

// load performs req and replaces the current document with the response.
// Error statuses still load: challenge pages arrive as 429 or 403 and the
// caller needs their markup.
func (p *Page) load(ctx context.Context, req *http.Request) error {
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("httpdriver: parse %s: %w", resp.Request.URL.Redacted(), err)
	}

	p.logger.Debug("page loaded",
		"url", resp.Request.URL.Redacted(),
		"status", resp.StatusCode,
	)

	p.doc = doc
	p.url = resp.Request.URL
	p.focused = nil
	return nil
}

func (p *Page) find(selector string) (*goquery.Selection, error) {
	if p.doc == nil {
		return nil, errors.New("no document loaded")
	}
	el := p.doc.Find(selector).First()
	if el.Length() == 0 {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return el, nil
}

func (p *Page) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if p.url != nil {
		u = p.url.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("relative url %q with no page loaded", ref)
	}
	return u, nil
}

// submit encodes form's successful controls and sends them with the form's
// method. submitter, if non-nil, contributes its own name and value.
func (p *Page) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	if form == nil || form.Length() == 0 {
		return errors.New("httpdriver: submit: no enclosing form")
	}

	action, _ := form.Attr("action")
	target, err := p.resolve(action)
	if err != nil {
		return fmt.Errorf("httpdriver: submit: %w", err)
	}

	values := formValues(form, submitter)

	var req *http.Request
	if strings.EqualFold(form.AttrOr("method", "get"), http.MethodPost) {
		req, err = http.NewRequest(http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target.RawQuery = values.Encode()
		target.Fragment = ""
		req, err = http.NewRequest(http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("httpdriver: submit: %w", err)
	}
	return p.load(ctx, req)
}

func formValues(form, submitter *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, el *goquery.Selection) {
		if _, disabled := el.Attr("disabled"); disabled {
			return
		}
		name, _ := el.Attr("name")

		switch goquery.NodeName(el) {
		case "select":
			opt := el.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = el.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
			return
		case "textarea":
			values.Add(name, fieldValue(el))
			return
		}

		switch strings.ToLower(el.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := el.Attr("checked"); checked {
				values.Add(name, el.AttrOr("value", "on"))
			}
		default:
			values.Add(name, fieldValue(el))
		}
	})

	if submitter != nil {
		if name, ok := submitter.Attr("name"); ok && name != "" {
			values.Add(name, submitter.AttrOr("value", ""))
		}
	}
	return values
}

// fieldValue returns the current value of an input or textarea. Typed text is
// kept in the value attribute for both.
func fieldValue(el *goquery.Selection) string {
	if v, ok := el.Attr("value"); ok {
		return v
	}
	if goquery.NodeName(el) == "textarea" {
		return el.Text()
	}
	return ""
}

func isSubmitter(el *goquery.Selection) bool {
	switch goquery.NodeName(el) {
	case "button":
		return strings.ToLower(el.AttrOr("type", "submit")) == "submit"
	case "input":
		t := strings.ToLower(el.AttrOr("type", "text"))
		return t == "submit" || t == "image"
	}
	return false
}
