// Package httpclient wraps net/http with the defaults a browser-like session
// needs: a cookie jar, a redirect limit and headers sent on every request.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// Provide a custom Transport, e.g. for proxies or uTLS fingerprinting
	Transport http.RoundTripper
	// Header is sent with every request unless the request sets the key itself.
	Header http.Header
}

// Client is an http.Client with session-wide default headers.
type Client struct {
	*http.Client

	mu     sync.RWMutex
	header http.Header
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects >= 0 {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("httpclient: stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	} else {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		c.Jar = jar
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	header := http.Header{}
	for k, vs := range cfg.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	return &Client{Client: c, header: header}, nil
}

// SetHeader replaces a default header. An empty value removes it.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		c.header.Del(key)
		return
	}
	c.header.Set(key, value)
}

// Header returns a copy of the default headers.
func (c *Client) Header() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header.Clone()
}

// Do executes an HTTP request under ctx with the default headers applied.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: context cannot be nil")
	}

	reqWithCtx := req.Clone(ctx)
	if reqWithCtx.Header == nil {
		reqWithCtx.Header = http.Header{}
	}

	c.mu.RLock()
	for k, vs := range c.header {
		if _, ok := reqWithCtx.Header[k]; ok {
			continue
		}
		reqWithCtx.Header[k] = append([]string(nil), vs...)
	}
	c.mu.RUnlock()

	resp, err := c.Client.Do(reqWithCtx)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}
