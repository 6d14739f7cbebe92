package serp

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// chain is an ordered, compiled selector list.
type chain []cascadia.Selector

// first returns the first element under s matched by the earliest selector in
// the chain that matches anything.
func (c chain) first(s *goquery.Selection) *goquery.Selection {
	for _, m := range c {
		if found := s.FindMatcher(m); found.Length() > 0 {
			return found.First()
		}
	}
	return nil
}

// Extractor turns a rendered results page into Results. It is immutable after
// construction and safe for concurrent use.
type Extractor struct {
	containers chain
	title      chain
	link       chain
	snippet    chain
}

// NewExtractor compiles every selector in rules. An invalid selector is a
// configuration error and is reported here rather than at request time.
func NewExtractor(rules RuleSet) (*Extractor, error) {
	containers, err := compile("containers", rules.Containers)
	if err != nil {
		return nil, err
	}
	title, err := compile("title", rules.Title)
	if err != nil {
		return nil, err
	}
	link, err := compile("link", rules.Link)
	if err != nil {
		return nil, err
	}
	snippet, err := compile("snippet", rules.Snippet)
	if err != nil {
		return nil, err
	}
	// Input and Ready are handed to the browser verbatim; check they parse too.
	for _, sel := range []string{rules.Input, rules.Ready} {
		if _, err := cascadia.Compile(sel); err != nil {
			return nil, fmt.Errorf("serp: invalid selector %q: %w", sel, err)
		}
	}

	return &Extractor{
		containers: containers,
		title:      title,
		link:       link,
		snippet:    snippet,
	}, nil
}

func compile(field string, selectors []string) (chain, error) {
	if len(selectors) == 0 {
		return nil, fmt.Errorf("serp: no %s selectors configured", field)
	}
	c := make(chain, 0, len(selectors))
	for _, sel := range selectors {
		m, err := cascadia.Compile(sel)
		if err != nil {
			return nil, fmt.Errorf("serp: invalid %s selector %q: %w", field, sel, err)
		}
		c = append(c, m)
	}
	return c, nil
}

// ExtractHTML parses an HTML document and extracts its results. base is the URL
// the document was loaded from and is used to resolve relative links.
func (e *Extractor) ExtractHTML(r io.Reader, base *url.URL) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("serp: parse document: %w", err)
	}
	return e.Extract(doc, base), nil
}

// Extract returns at most MaxResults results in document order. Containers
// without a title are skipped; a missing link or snippet yields a nil field.
func (e *Extractor) Extract(doc *goquery.Document, base *url.URL) []Result {
	base = documentBase(doc, base)

	var containers *goquery.Selection
	for _, m := range e.containers {
		if found := doc.FindMatcher(m); found.Length() > 0 {
			containers = found
			break
		}
	}

	results := []Result{}
	if containers == nil {
		return results
	}

	containers.EachWithBreak(func(_ int, c *goquery.Selection) bool {
		title := e.resolveTitle(c)
		if title == "" {
			return true
		}

		res := Result{Title: title}
		if a := e.link.first(c); a != nil {
			res.Link = resolveHref(a, base)
		}
		if s := e.snippet.first(c); s != nil {
			text := strings.TrimSpace(s.Text())
			res.Snippet = &text
		}

		results = append(results, res)
		return len(results) < MaxResults
	})

	return results
}

// resolveTitle tries each title selector in order and returns the first
// non-blank text. A heading that renders empty is not a usable title.
func (e *Extractor) resolveTitle(c *goquery.Selection) string {
	for _, m := range e.title {
		found := c.FindMatcher(m)
		if found.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(found.First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// documentBase honours a <base href> element the way a browser does when it
// computes an anchor's href property.
func documentBase(doc *goquery.Document, page *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return page
	}
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	if page != nil {
		return page.ResolveReference(u)
	}
	if u.IsAbs() {
		return u
	}
	return nil
}

func resolveHref(a *goquery.Selection, base *url.URL) *string {
	href, ok := a.Attr("href")
	if !ok {
		return nil
	}
	href = strings.TrimSpace(href)

	u, err := url.Parse(href)
	if err != nil {
		return &href
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	link := u.String()
	return &link
}
