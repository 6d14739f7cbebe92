// Package report summarises the search audit log.
package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/serpd/internal/storage"
)

// Summary aggregates a set of search records.
type Summary struct {
	TotalSearches   int            `json:"total_searches"`
	ByOutcome       map[string]int `json:"by_outcome"`
	ByDriver        map[string]int `json:"by_driver"`
	ChallengesBySrc map[string]int `json:"challenges_by_source"`
	// ZeroResults counts successful searches that extracted nothing, the
	// usual sign that the selector rules have gone stale.
	ZeroResults  int           `json:"zero_results"`
	MeanDuration time.Duration `json:"mean_duration"`
	MeanResults  float64       `json:"mean_results"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Window       time.Duration `json:"window"`
}

// SuccessRate returns the share of searches that succeeded, in [0, 1].
func (s Summary) SuccessRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.ByOutcome["success"]) / float64(s.TotalSearches)
}

// GenerateSummary aggregates records in any order.
func GenerateSummary(records []*storage.SearchRecord) Summary {
	s := Summary{
		ByOutcome:       make(map[string]int),
		ByDriver:        make(map[string]int),
		ChallengesBySrc: make(map[string]int),
	}
	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	var totalDuration time.Duration
	var timed, successes, totalResults int

	for _, r := range records {
		s.TotalSearches++
		s.ByOutcome[r.Outcome]++
		if r.Driver != "" {
			s.ByDriver[r.Driver]++
		}
		if r.Challenge != "" {
			s.ChallengesBySrc[r.Challenge]++
		}
		if r.Outcome == "success" {
			successes++
			totalResults += r.ResultCount
			if r.ResultCount == 0 {
				s.ZeroResults++
			}
		}
		if r.Duration > 0 {
			timed++
			totalDuration += r.Duration
		}

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	if timed > 0 {
		s.MeanDuration = (totalDuration / time.Duration(timed)).Round(time.Millisecond)
	}
	if successes > 0 {
		s.MeanResults = float64(totalResults) / float64(successes)
	}
	s.Window = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `serpd Search Summary
--------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Window:        {{.Window}}
Searches:      {{.TotalSearches}}
Success rate:  {{printf "%.1f" (percent .SuccessRate)}}%
Mean duration: {{.MeanDuration}}
Mean results:  {{printf "%.1f" .MeanResults}}
Zero results:  {{.ZeroResults}}

Outcomes:
{{- range $outcome, $count := .ByOutcome}}
  {{$outcome}}: {{$count}}
{{- else}}
  None
{{- end}}

Drivers:
{{- range $driver, $count := .ByDriver}}
  {{$driver}}: {{$count}}
{{- else}}
  None
{{- end}}

Challenges:
{{- range $src, $count := .ChallengesBySrc}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}
`

func percent(f float64) float64 { return f * 100 }

// WriteText writes a human-readable summary.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Funcs(template.FuncMap{"percent": percent}).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>serpd Search Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  .bad { color: #b00020; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>serpd Search Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Window}})</p>

  <div class="stat-card">
    <div>Searches</div>
    <div class="stat-val">{{.TotalSearches}}</div>
  </div>
  <div class="stat-card">
    <div>Success rate</div>
    <div class="stat-val">{{printf "%.1f" (percent .SuccessRate)}}%</div>
  </div>
  <div class="stat-card">
    <div>Mean duration</div>
    <div class="stat-val">{{.MeanDuration}}</div>
  </div>
  <div class="stat-card">
    <div>Zero results</div>
    <div class="stat-val{{if gt .ZeroResults 0}} bad{{end}}">{{.ZeroResults}}</div>
  </div>

  <h3>Outcomes</h3>
  <table>
    <tr><th>Outcome</th><th>Count</th></tr>
    {{- range $outcome, $count := .ByOutcome}}
    <tr><td>{{$outcome}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Challenges By Source</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .ChallengesBySrc}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a standalone HTML report.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := htmltemplate.New("htmlReport").Funcs(htmltemplate.FuncMap{"percent": percent}).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
