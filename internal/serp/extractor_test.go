package serp

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultRules())
	if err != nil {
		t.Fatalf("failed to build extractor: %v", err)
	}
	return e
}

func extract(t *testing.T, e *Extractor, html string, base string) []Result {
	t.Helper()
	var u *url.URL
	if base != "" {
		var err error
		u, err = url.Parse(base)
		if err != nil {
			t.Fatalf("bad base url: %v", err)
		}
	}
	results, err := e.ExtractHTML(strings.NewReader(html), u)
	if err != nil {
		t.Fatalf("unexpected extract error: %v", err)
	}
	return results
}

func ptr(s string) *string { return &s }

func TestExtract_PrimaryContainers(t *testing.T) {
	html := `<html><body><div id="search">
		<div class="g">
			<a href="https://go.dev/"><h3>  The Go Programming Language </h3></a>
			<div class="VwiC3b">
				Go is an open source programming language.
			</div>
		</div>
		<div class="g">
			<a href="https://pkg.go.dev/"><h3>Go Packages</h3></a>
		</div>
	</div></body></html>`

	got := extract(t, mustExtractor(t), html, "https://www.google.com/search?q=go")
	want := []Result{
		{Title: "The Go Programming Language", Link: ptr("https://go.dev/"), Snippet: ptr("Go is an open source programming language.")},
		{Title: "Go Packages", Link: ptr("https://pkg.go.dev/"), Snippet: nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_SecondPriorityContainer(t *testing.T) {
	// No div.g anywhere; only the data-hveid variant is present.
	html := `<html><body>
		<div data-hveid="CAEQAA">
			<a href="https://example.com/a"><span class="LC20lb">Result A</span></a>
			<span class="st">snippet a</span>
		</div>
		<div data-hveid="CAIQAA">
			<a href="https://example.com/b"><h3>Result B</h3></a>
		</div>
	</body></html>`

	got := extract(t, mustExtractor(t), html, "")
	if len(got) != 2 {
		t.Fatalf("expected 2 results from fallback container selector, got %d", len(got))
	}
	if got[0].Title != "Result A" || got[1].Title != "Result B" {
		t.Errorf("unexpected titles: %q, %q", got[0].Title, got[1].Title)
	}
	if got[0].Snippet == nil || *got[0].Snippet != "snippet a" {
		t.Errorf("expected fallback snippet selector to match, got %v", got[0].Snippet)
	}
}

func TestExtract_MissingLinkIsNil(t *testing.T) {
	html := `<div class="g"><h3>No anchor here</h3><div class="VwiC3b">text</div></div>`

	got := extract(t, mustExtractor(t), html, "")
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].Link != nil {
		t.Errorf("expected nil link, got %q", *got[0].Link)
	}
	if got[0].Title != "No anchor here" {
		t.Errorf("unexpected title %q", got[0].Title)
	}
}

func TestExtract_ContainerWithoutTitleSkipped(t *testing.T) {
	html := `<body>
		<div class="g"><a href="https://a.example/">no heading</a></div>
		<div class="g"><h3>   </h3><a href="https://blank.example/">blank heading</a></div>
		<div class="g"><a href="https://b.example/"><h3>Kept</h3></a></div>
	</body>`

	got := extract(t, mustExtractor(t), html, "")
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d: %+v", len(got), got)
	}
	if got[0].Title != "Kept" {
		t.Errorf("expected Kept, got %q", got[0].Title)
	}
}

func TestExtract_BlankTitleFallsThroughToNextSelector(t *testing.T) {
	html := `<div class="g"><h3></h3><span class="DKV0Md">Alternate title</span></div>`

	got := extract(t, mustExtractor(t), html, "")
	if len(got) != 1 || got[0].Title != "Alternate title" {
		t.Fatalf("expected title from .DKV0Md, got %+v", got)
	}
}

func TestExtract_LinkFallbackAndResolution(t *testing.T) {
	html := `<div class="g">
		<a ping="/url?sa=t" href="/url?q=https://example.org/"><h3>Relative</h3></a>
	</div>`

	got := extract(t, mustExtractor(t), html, "https://www.google.com/search?q=x")
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	want := "https://www.google.com/url?q=https://example.org/"
	if got[0].Link == nil || *got[0].Link != want {
		t.Errorf("expected link %q, got %v", want, got[0].Link)
	}
}

func TestExtract_BaseElement(t *testing.T) {
	html := `<html><head><base href="https://mirror.example/root/"></head><body>
		<div class="g"><a data-ved="x" href="page"><h3>Based</h3></a></div>
	</body></html>`

	got := extract(t, mustExtractor(t), html, "https://www.google.com/search")
	if len(got) != 1 || got[0].Link == nil {
		t.Fatalf("expected one linked result, got %+v", got)
	}
	if *got[0].Link != "https://mirror.example/root/page" {
		t.Errorf("expected link resolved against <base>, got %q", *got[0].Link)
	}
}

func TestExtract_AnchorWithoutHref(t *testing.T) {
	html := `<div class="g"><a data-ved="abc"><h3>Anchor only</h3></a></div>`

	got := extract(t, mustExtractor(t), html, "https://www.google.com/")
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].Link != nil {
		t.Errorf("expected nil link for anchor without href, got %q", *got[0].Link)
	}
}

func TestExtract_OrderAndTruncation(t *testing.T) {
	var b strings.Builder
	b.WriteString("<body>")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, `<div class="g"><a href="https://example.com/%d"><h3>Result %d</h3></a></div>`, i, i)
	}
	b.WriteString("</body>")

	got := extract(t, mustExtractor(t), b.String(), "")
	if len(got) != MaxResults {
		t.Fatalf("expected %d results, got %d", MaxResults, len(got))
	}
	for i, r := range got {
		if want := fmt.Sprintf("Result %d", i); r.Title != want {
			t.Errorf("position %d: expected %q, got %q", i, want, r.Title)
		}
	}
}

func TestExtract_NoContainers(t *testing.T) {
	got := extract(t, mustExtractor(t), `<html><body><p>nothing here</p></body></html>`, "")
	if got == nil {
		t.Fatal("expected empty non-nil slice")
	}
	if len(got) != 0 {
		t.Errorf("expected 0 results, got %d", len(got))
	}
}

func TestExtract_Idempotent(t *testing.T) {
	html := `<div class="g"><a href="https://a.example/"><h3>A</h3></a><span class="IsZvec">s</span></div>
	<div class="g"><h3>B</h3></div>`

	e := mustExtractor(t)
	first := extract(t, e, html, "https://www.google.com/")
	second := extract(t, e, html, "https://www.google.com/")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("extraction not idempotent (-first +second):\n%s", diff)
	}
}

func TestExtract_TitlesTrimmedAndNonEmpty(t *testing.T) {
	html := `<div class="g"><h3>
		Padded
	</h3></div><div class="g"><h3>	</h3></div>`

	for _, r := range extract(t, mustExtractor(t), html, "") {
		if r.Title == "" || r.Title != strings.TrimSpace(r.Title) {
			t.Errorf("title %q is empty or untrimmed", r.Title)
		}
	}
}

func TestNewExtractor_InvalidSelector(t *testing.T) {
	rules := DefaultRules()
	rules.Title = []string{"h3[["}
	if _, err := NewExtractor(rules); err == nil {
		t.Fatal("expected error for invalid selector")
	}

	rules = DefaultRules()
	rules.Containers = nil
	if _, err := NewExtractor(rules); err == nil {
		t.Fatal("expected error for empty container list")
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse("q", nil)
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("expected empty results slice, got %v", resp.Results)
	}

	many := make([]Result, 12)
	for i := range many {
		many[i] = Result{Title: fmt.Sprint(i)}
	}
	resp = NewResponse("q", many)
	if len(resp.Results) != MaxResults {
		t.Errorf("expected %d results, got %d", MaxResults, len(resp.Results))
	}
	if resp.SearchQuery != "q" {
		t.Errorf("expected query echoed, got %q", resp.SearchQuery)
	}
}
