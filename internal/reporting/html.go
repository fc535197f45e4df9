// internal/reporting/html.go
package reporting

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// HTMLWriter renders the run as a self-contained HTML report.
type HTMLWriter struct {
	Path  string
	Title string
}

// NewHTMLWriter creates an HTML writer. An empty title uses DefaultTitle.
func NewHTMLWriter(path, title string) *HTMLWriter {
	if title == "" {
		title = DefaultTitle
	}
	return &HTMLWriter{Path: path, Title: title}
}

// DefaultTitle is the report title used when none is configured.
const DefaultTitle = "Test Automation DKM"

type htmlRow struct {
	Outcome     Outcome
	Title       string
	ID          string
	Markers     []string
	Duration    string
	Phase       Phase
	Message     string
	Description template.HTML
	Artifact    *DiagnosticArtifact
}

type htmlReport struct {
	Title    string
	RunID    string
	Started  string
	Duration string
	Summary  Summary
	Rows     []htmlRow
}

// Write renders run to w.Path.
func (w *HTMLWriter) Write(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := htmlReport{
		Title:    w.Title,
		RunID:    run.ID,
		Started:  run.Started.Format(time.RFC1123),
		Duration: formatDuration(run.Duration()),
		Summary:  run.Summary(),
	}
	for _, rec := range run.Records {
		data.Rows = append(data.Rows, htmlRow{
			Outcome:  rec.Outcome(),
			Title:    rec.Title,
			ID:       rec.ID,
			Markers:  rec.Markers,
			Duration: formatDuration(rec.Duration),
			Phase:    rec.Phase(),
			Message:  rec.Message(),
			// The description is escaped when the record is finalized.
			Description: template.HTML(rec.Description()),
			Artifact:    rec.Artifact(),
		})
	}

	out, err := openOutput(w.Path)
	if err != nil {
		return err
	}
	if err := reportTemplate.Execute(out, data); err != nil {
		out.Close()
		return fmt.Errorf("failed to render html report: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close html report: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<title>{{.Title}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #222; }
table#results-table { border-collapse: collapse; width: 100%; }
table#results-table th, table#results-table td { border: 1px solid #e6e6e6; padding: 5px; text-align: left; vertical-align: top; }
.passed { color: green; } .failed, .error { color: red; } .skipped { color: orange; }
.extra pre { white-space: pre-wrap; background: #f7f7f7; padding: 4px; }
</style>
</head>
<body>
<h1 id="title">{{.Title}}</h1>
<p>Run {{.RunID}} started {{.Started}}, took {{.Duration}}.</p>
<h2>Summary</h2>
<p id="summary">{{.Summary.Total}} tests: <span class="passed">{{.Summary.Passed}} passed</span>, <span class="failed">{{.Summary.Failed}} failed</span>, <span class="error">{{.Summary.Errors}} errors</span>, <span class="skipped">{{.Summary.Skipped}} skipped</span></p>
<h2>Results</h2>
<table id="results-table">
<thead>
<tr>
<th class="sortable" data-column-type="result">Result</th>
<th class="sortable" data-column-type="testId">Test</th>
<th class="sortable" data-column-type="duration">Duration</th>
<th data-column-type="links">Links</th>
</tr>
</thead>
{{range .Rows}}<tbody class="results-table-row {{.Outcome}}">
<tr>
<td class="col-result {{.Outcome}}">{{.Outcome}}</td>
<td class="col-name" title="{{.ID}}">{{.Title}}{{range .Markers}} <small>[{{.}}]</small>{{end}}</td>
<td class="col-duration">{{.Duration}}</td>
<td class="col-links">{{with .Artifact}}<a class="image" href="{{.Path}}" target="_blank">{{.Name}}</a>{{end}}</td>
</tr>
<tr class="extra">
<td colspan="4">{{if .Message}}<div class="log">{{.Phase}}: <pre>{{.Message}}</pre></div>{{end}}
<div class="description">{{.Description}}</div></td>
</tr>
</tbody>
{{end}}</table>
</body>
</html>
`))
