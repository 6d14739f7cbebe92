// Package serp models Google search results and extracts them from a rendered
// results page.
package serp

// MaxResults caps the number of results returned for a single search. Google's
// first results page is the only page inspected; there is no pagination.
const MaxResults = 10

// Result is a single organic search result scraped from the results page.
// Link and Snippet are nil when no matching element was found in the result
// container; they serialize as JSON null.
type Result struct {
	Title   string  `json:"title"`
	Link    *string `json:"link"`
	Snippet *string `json:"snippet"`
}

// Response is the payload returned for a search request. Results is never nil
// so that an empty search serializes as [] rather than null.
type Response struct {
	SearchQuery string   `json:"searchQuery"`
	Results     []Result `json:"results"`
}

// NewResponse builds a Response for query, truncating results to MaxResults.
func NewResponse(query string, results []Result) *Response {
	if results == nil {
		results = []Result{}
	}
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	return &Response{
		SearchQuery: query,
		Results:     results,
	}
}
