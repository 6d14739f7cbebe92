// Package fingerprint builds HTTP transports whose TLS ClientHello mimics a
// real browser.
package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// Profiles lists every supported profile.
func Profiles() []Profile {
	return []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom}
}

// ParseProfile validates a profile name, ignoring case.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Profiles() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("fingerprint: unknown profile %q", s)
}

// Options configures Transport.
type Options struct {
	Profile Profile
	// Proxy selects the proxy for each request, as http.Transport.Proxy does.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// Transport returns an http.RoundTripper whose TLS handshake carries the
// fingerprint of opts.Profile. ProfileGo yields a plain cloned
// http.DefaultTransport.
//
// Browser presets advertise h2 in ALPN, which net/http cannot speak over a
// foreign tls connection. The presets are therefore rewritten to offer
// http/1.1 only; every other extension keeps its browser ordering.
func Transport(opts Options) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}

	if opts.Profile == ProfileGo || opts.Profile == "" {
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return transport, nil
	}

	h, err := helloFor(opts.Profile)
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := h.client(tcpConn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		})
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}
	// The custom dialer bypasses net/http's own h2 negotiation.
	transport.ForceAttemptHTTP2 = false

	return transport, nil
}

type hello struct {
	id utls.ClientHelloID
	// preset is false for randomized ids, which cannot be expanded to a spec.
	preset bool
}

func helloFor(p Profile) (hello, error) {
	switch p {
	case ProfileChrome:
		return hello{id: utls.HelloChrome_Auto, preset: true}, nil
	case ProfileFirefox:
		return hello{id: utls.HelloFirefox_Auto, preset: true}, nil
	case ProfileSafari:
		return hello{id: utls.HelloIOS_Auto, preset: true}, nil
	case ProfileRandom:
		return hello{id: utls.HelloRandomizedNoALPN}, nil
	default:
		return hello{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}

// client builds a fresh UConn. Specs hold extension pointers that the
// handshake mutates, so a new spec is generated per connection.
func (h hello) client(conn net.Conn, cfg *utls.Config) (*utls.UConn, error) {
	if !h.preset {
		return utls.UClient(conn, cfg, h.id), nil
	}

	spec, err := utls.UTLSIdToSpec(h.id)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: build %s spec: %w", h.id.Str(), err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("fingerprint: apply %s preset: %w", h.id.Str(), err)
	}
	return uConn, nil
}
