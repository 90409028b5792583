package output

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// GenerateHTMLReport writes a standalone HTML page for the report.
func GenerateHTMLReport(w io.Writer, r Report) error {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatTime": func(t time.Time) string {
			return t.Format(time.RFC3339)
		},
		"statusLabel": statusLabel,
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, r); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>apiprobe Report {{.RunID}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            padding: 30px 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
            gap: 20px;
            margin: 20px 0 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
        }
        .card.success { border-left-color: #10b981; }
        .card.error { border-left-color: #ef4444; }
        table {
            width: 100%;
            border-collapse: collapse;
            margin-bottom: 30px;
        }
        th, td {
            text-align: left;
            padding: 8px 12px;
            border-bottom: 1px solid #e9ecef;
            vertical-align: top;
        }
        .passed { color: #10b981; font-weight: bold; }
        .failed { color: #ef4444; font-weight: bold; }
        .skipped { color: #f59e0b; font-weight: bold; }
        ul.errors { margin: 4px 0 0 18px; color: #ef4444; }
    </style>
</head>
<body>
<div class="container">
    <h1>API Test Report</h1>
    <div class="meta">Run {{.RunID}} started {{formatTime .StartedAt}}</div>

    <div class="grid">
        <div class="card success"><h3>Passed</h3><div class="value">{{.Passed}}</div></div>
        <div class="card{{if .Failed}} error{{end}}"><h3>Failed</h3><div class="value">{{.Failed}}</div></div>
        <div class="card"><h3>Skipped</h3><div class="value">{{.Skipped}}</div></div>
        <div class="card"><h3>P99 Latency</h3><div class="value">{{formatFloat .Stats.P99LatencyMs}} ms</div></div>
    </div>

    {{range .Suites}}
    <h2>{{.Definition}}</h2>
    <table>
        <thead>
            <tr><th>Status</th><th>Kind</th><th>Name</th><th>Target</th><th>Elapsed (ms)</th></tr>
        </thead>
        <tbody>
        {{range .Jobs}}
            <tr>
                <td class="{{.Status}}">{{statusLabel .Status}}</td>
                <td>{{.Kind}}</td>
                <td>{{.Name}}
                    {{if .Errors}}<ul class="errors">{{range .Errors}}<li>{{.}}</li>{{end}}</ul>{{end}}
                </td>
                <td>{{.URL}}{{if .StatusCode}} ({{.StatusCode}}){{end}}</td>
                <td>{{formatFloat .ElapsedMs}}</td>
            </tr>
        {{end}}
        </tbody>
    </table>
    {{end}}
</div>
</body>
</html>
`
