// Package useragent picks the User-Agent string presented by each search.
package useragent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
)

// DefaultPool lists Chromium-family desktop User-Agents. The first entry is
// the one presented in ModeFixed.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// Mode selects how Pick chooses from the pool.
type Mode string

const (
	ModeFixed  Mode = "fixed"  // always the first entry
	ModeRotate Mode = "rotate" // round-robin
	ModeRandom Mode = "random" // uniform, crypto/rand
)

// ParseMode validates a mode name. The empty string means ModeFixed.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeFixed, nil
	case ModeFixed, ModeRotate, ModeRandom:
		return m, nil
	default:
		return "", fmt.Errorf("useragent: unknown mode %q", s)
	}
}

// Pool is a fixed list of User-Agents. It is safe for concurrent use.
type Pool struct {
	uas     []string
	mode    Mode
	counter atomic.Uint64
}

// NewPool creates a pool that picks according to mode. An empty uas falls back
// to DefaultPool.
func NewPool(uas []string, mode Mode) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	if mode == "" {
		mode = ModeFixed
	}
	copied := make([]string, len(uas))
	copy(copied, uas)
	return &Pool{uas: copied, mode: mode}
}

// Mode returns the pool's selection mode.
func (p *Pool) Mode() Mode { return p.mode }

// Pick returns the User-Agent for the next search.
func (p *Pool) Pick() string {
	switch p.mode {
	case ModeRotate:
		return p.sequential()
	case ModeRandom:
		return p.random()
	default:
		if len(p.uas) == 0 {
			return ""
		}
		return p.uas[0]
	}
}

func (p *Pool) sequential() string {
	if len(p.uas) == 0 {
		return ""
	}
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

func (p *Pool) random() string {
	if len(p.uas) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.sequential()
	}
	return p.uas[n.Int64()]
}

// All returns a copy of the pool's User-Agents.
func (p *Pool) All() []string {
	copied := make([]string, len(p.uas))
	copy(copied, p.uas)
	return copied
}
