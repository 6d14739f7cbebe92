package serp

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleSet holds the selector fallback chains used to drive and scrape a results
// page. Each list is ordered from most to least specific and evaluated
// first-match-wins. Google changes its markup without notice, so these are kept
// as data and can be overridden from a YAML file without touching the extractor.
type RuleSet struct {
	// Input locates the query box on the search home page.
	Input string `yaml:"input"`
	// Ready is waited on after submitting the query.
	Ready string `yaml:"ready"`

	Containers []string `yaml:"containers"`
	Title      []string `yaml:"title"`
	Link       []string `yaml:"link"`
	Snippet    []string `yaml:"snippet"`
}

// DefaultRules returns the selectors for the known variants of Google's result
// markup.
func DefaultRules() RuleSet {
	return RuleSet{
		Input: `textarea[name="q"], input[name="q"]`,
		Ready: `#search, #rso, div[data-sokoban-container], .g`,
		Containers: []string{
			"div.g",
			"div[data-hveid]",
			"div.rc",
			"div.yuRUbf",
			"div[data-sokoban-container] div.g",
			"#search div.g",
			"#rso div.g",
		},
		Title: []string{
			"h3",
			".LC20lb",
			".DKV0Md",
		},
		Link: []string{
			`a[href^="http"]`,
			"a[ping]",
			"a[data-ved]",
		},
		Snippet: []string{
			".VwiC3b",
			".st",
			".IsZvec",
			".aCOpRe",
		},
	}
}

// LoadRules reads a YAML rule file. Any field left empty in the file keeps its
// default value, so a file may override only the container list, for example.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("serp: read rules: %w", err)
	}

	var fromFile RuleSet
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return RuleSet{}, fmt.Errorf("serp: parse rules %s: %w", path, err)
	}

	return fromFile.withDefaults(DefaultRules()), nil
}

func (r RuleSet) withDefaults(def RuleSet) RuleSet {
	if strings.TrimSpace(r.Input) == "" {
		r.Input = def.Input
	}
	if strings.TrimSpace(r.Ready) == "" {
		r.Ready = def.Ready
	}
	if len(r.Containers) == 0 {
		r.Containers = def.Containers
	}
	if len(r.Title) == 0 {
		r.Title = def.Title
	}
	if len(r.Link) == 0 {
		r.Link = def.Link
	}
	if len(r.Snippet) == 0 {
		r.Snippet = def.Snippet
	}
	return r
}
