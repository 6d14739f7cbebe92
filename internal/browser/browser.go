// Package browser defines the driver-neutral surface a search uses to control
// a browser. Implementations live in the chrome and httpdriver subpackages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrUnsupported is returned by drivers for operations they cannot perform.
var ErrUnsupported = errors.New("browser: operation not supported by driver")

// LaunchOptions configures a browser instance at launch.
type LaunchOptions struct {
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// Proxy routes all browser traffic when non-nil.
	Proxy *url.URL
}

// Launcher starts browser instances. Each call returns an independent
// instance owned by the caller.
type Launcher interface {
	// Name identifies the driver in logs and metrics.
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser instance. Close must be called exactly once the
// instance is no longer needed; further calls are no-ops.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Selectors are CSS selectors; a selector list such as
// "a, b" matches either.
type Page interface {
	SetUserAgent(ctx context.Context, ua string) error
	SetViewport(ctx context.Context, width, height int) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	// Navigate loads rawURL, failing with a *TimeoutError when the page does
	// not finish loading within timeout.
	Navigate(ctx context.Context, rawURL string, timeout time.Duration) error
	MoveMouse(ctx context.Context, x, y float64) error
	// WaitFor blocks until selector matches an element in the DOM.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	// Type sends text as key presses to the element matching selector.
	Type(ctx context.Context, selector, text string) error
	// Press sends a named key such as "Enter" to the focused element.
	Press(ctx context.Context, key string) error

	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error
}

// TimeoutError reports a bounded wait that expired.
type TimeoutError struct {
	Step     string
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: timed out after %s", e.Step, e.Timeout)
	if e.Selector != "" {
		msg += fmt.Sprintf(" waiting for %q", e.Selector)
	}
	if e.Err != nil && !errors.Is(e.Err, context.DeadlineExceeded) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
