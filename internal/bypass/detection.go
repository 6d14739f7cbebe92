// Package bypass recognises pages that block or interrupt a search instead of
// showing results. It only names the obstacle; nothing here tries to solve it.
package bypass

import (
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is a rendered page as the browser last saw it.
type Snapshot struct {
	URL  string
	HTML string

	once sync.Once
	doc  *goquery.Document
	text string
}

// document parses the snapshot once. Markup that fails to parse yields an
// empty document so detectors fall back to URL checks.
func (s *Snapshot) document() *goquery.Document {
	s.once.Do(func() {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
		if err != nil {
			doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
		}
		s.doc = doc
		s.text = strings.ToLower(doc.Text())
	})
	return s.doc
}

func (s *Snapshot) has(selector string) bool {
	return s.document().Find(selector).Length() > 0
}

func (s *Snapshot) textContains(needle string) bool {
	s.document()
	return strings.Contains(s.text, needle)
}

func (s *Snapshot) parsedURL() *url.URL {
	u, err := url.Parse(s.URL)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// Detector examines a snapshot and names the mechanism that is blocking it.
type Detector func(s *Snapshot) (detected bool, source string)

// DefaultDetectors returns the detectors for obstacles seen on Google result
// pages, most specific first.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogleSorry,
		detectGoogleConsent,
		detectRecaptcha,
		detectCloudflare,
	}
}

// Analyze runs the snapshot through detectors in order and returns the source
// of the first that triggers.
func Analyze(s *Snapshot, detectors []Detector) (source string, detected bool) {
	if s == nil {
		return "", false
	}
	for _, d := range detectors {
		if detected, source := d(s); detected {
			return source, true
		}
	}
	return "", false
}

// detectGoogleSorry recognises the "unusual traffic" interstitial served from
// /sorry/ when Google rate-limits an address.
func detectGoogleSorry(s *Snapshot) (bool, string) {
	u := s.parsedURL()
	if strings.HasPrefix(u.Path, "/sorry/") {
		return true, "GoogleSorry"
	}
	if s.has("form#captcha-form") {
		return true, "GoogleSorry"
	}
	if s.textContains("our systems have detected unusual traffic") {
		return true, "GoogleSorry"
	}
	return false, ""
}

// detectGoogleConsent recognises the cookie consent wall shown to EU visitors.
func detectGoogleConsent(s *Snapshot) (bool, string) {
	if strings.HasPrefix(s.parsedURL().Host, "consent.") {
		return true, "GoogleConsent"
	}
	if s.has(`form[action*="consent.google"]`) || s.has(`form[action*="/save"] input[name="set_eom"]`) {
		return true, "GoogleConsent"
	}
	return false, ""
}

// detectRecaptcha catches reCAPTCHA widgets outside the sorry page.
func detectRecaptcha(s *Snapshot) (bool, string) {
	if s.has("#recaptcha, .g-recaptcha, iframe[src*=\"recaptcha\"], script[src*=\"recaptcha/api\"]") {
		return true, "reCAPTCHA"
	}
	return false, ""
}

// detectCloudflare looks for Cloudflare challenge signatures, which appear
// when searches are routed through a proxy behind Cloudflare.
func detectCloudflare(s *Snapshot) (bool, string) {
	if s.has(".cf-turnstile, #cf-challenge-running, form#challenge-form") {
		return true, "Cloudflare"
	}
	if strings.Contains(s.HTML, "cf-browser-verification") ||
		strings.Contains(s.HTML, "Attention Required! | Cloudflare") {
		return true, "Cloudflare"
	}
	return false, ""
}
