// Package proxy rotates outbound proxies and benches the ones that keep
// failing.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when marking a proxy the pool does not hold.
var ErrNotFound = errors.New("proxy: not found in pool")

// Proxy represents a single proxy endpoint with health tracking.
type Proxy struct {
	URL           *url.URL
	Failures      int
	Successes     int
	LastUsed      time.Time
	Disabled      bool
	DisabledUntil time.Time
}

// Pool hands out proxies round-robin, skipping disabled ones.
type Pool struct {
	mu           sync.Mutex
	proxies      []*Proxy
	currentIndex int
	maxFailures  int
	cooldown     time.Duration
	now          func() time.Time
}

// Config defines settings for the Proxy Pool.
type Config struct {
	// MaxFailures before disabling a proxy temporarily.
	MaxFailures int `mapstructure:"max_failures"`
	// Cooldown is how long a proxy remains disabled after hitting MaxFailures.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// NewPool creates an empty pool. Zero config values fall back to 3 failures
// and a five minute cooldown.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile reads proxies from a file, one URL per line. Blank lines and lines
// starting with '#' are ignored.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open list: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: read %s: %w", path, err)
	}

	return p.Add(urls...)
}

// Add parses raw URL strings and adds them to the pool. A missing scheme
// defaults to http. Nothing is added if any entry is invalid.
func (p *Pool) Add(rawURLs ...string) error {
	parsed := make([]*Proxy, 0, len(rawURLs))
	for _, raw := range rawURLs {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: parse %q: %w", raw, err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: %q has no host", raw)
		}
		parsed = append(parsed, &Proxy{URL: u})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append(p.proxies, parsed...)
	return nil
}

// Len returns the number of proxies in the pool, healthy or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Next returns the next healthy proxy URL, or nil when the pool is empty or
// every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}

	now := p.now()
	for range p.proxies {
		prx := p.proxies[p.currentIndex]
		p.currentIndex = (p.currentIndex + 1) % len(p.proxies)

		if prx.Disabled && now.After(prx.DisabledUntil) {
			prx.Disabled = false
			prx.Failures = 0
		}
		if !prx.Disabled {
			prx.LastUsed = now
			return prx.URL
		}
	}
	return nil
}

// MarkSuccess records a successful search through proxyURL.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxy: url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.findProxy(proxyURL)
	if prx == nil {
		return ErrNotFound
	}
	prx.Successes++
	if prx.Failures > 0 {
		prx.Failures--
	}
	return nil
}

// MarkFailure records a failure through proxyURL and reports whether the
// proxy has now been benched for the cooldown period.
func (p *Pool) MarkFailure(proxyURL *url.URL) (disabled bool, err error) {
	if proxyURL == nil {
		return false, errors.New("proxy: url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.findProxy(proxyURL)
	if prx == nil {
		return false, ErrNotFound
	}
	prx.Failures++
	if prx.Failures >= p.maxFailures && !prx.Disabled {
		prx.Disabled = true
		prx.DisabledUntil = p.now().Add(p.cooldown)
		return true, nil
	}
	return false, nil
}

// findProxy locates a proxy by its String() representation. Must be called with lock held.
func (p *Pool) findProxy(u *url.URL) *Proxy {
	target := u.String()
	for _, prx := range p.proxies {
		if prx.URL.String() == target {
			return prx
		}
	}
	return nil
}
