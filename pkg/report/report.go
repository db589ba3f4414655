package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"k8s.io/utils/clock"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

var Formats = []Format{FormatJSON, FormatCSV, FormatHTML}

// Writer renders a finished run into a report file. One Writer can emit any
// of the supported formats; the format decides the file extension.
type Writer struct {
	dir    string
	clock  clock.Clock
	logger *log.Logger
}

func NewWriter(dir string) *Writer {
	return &Writer{
		dir:    dir,
		clock:  clock.RealClock{},
		logger: log.WithPrefix("report"),
	}
}

// Write renders findings plus summary in the given format and returns the
// path of the written file.
func (w *Writer) Write(format Format, findings []types.Finding, summary types.Summary) (string, error) {
	eb := oops.In("report").With("format", string(format))

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", eb.Wrapf(err, "failed to create report directory")
	}

	name := fmt.Sprintf("npmguard_report_%s.%s",
		w.clock.Now().Format("20060102_150405"), format)
	filePath := filepath.Join(w.dir, name)

	f, err := os.Create(filePath)
	if err != nil {
		return "", eb.Wrapf(err, "failed to create report file")
	}
	defer f.Close()

	switch format {
	case FormatJSON:
		err = writeJSON(f, findings, summary)
	case FormatCSV:
		err = writeCSV(f, findings)
	case FormatHTML:
		err = writeHTML(f, findings, summary)
	default:
		err = eb.Errorf("unsupported report format: %s", format)
	}
	if err != nil {
		return "", eb.With("file_path", filePath).Wrapf(err, "failed to render report")
	}

	w.logger.Info("Report written", log.FilePath(filePath),
		log.Int("findings", len(findings)))
	return filePath, nil
}

type jsonReport struct {
	Summary  types.Summary   `json:"summary"`
	Findings []types.Finding `json:"vulnerabilities"`
}

func writeJSON(f io.Writer, findings []types.Finding, summary types.Summary) error {
	e := json.NewEncoder(f)
	e.SetIndent("", "  ")
	return e.Encode(jsonReport{Summary: summary, Findings: findings})
}

var csvHeader = []string{
	"Platform", "Repository", "File", "Package", "Version", "Severity", "CVE", "Range", "Description",
}

func writeCSV(f io.Writer, findings []types.Finding) error {
	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	if len(findings) == 0 {
		if err := cw.Write([]string{"", "", "", "No vulnerabilities found", "", "", "", "", ""}); err != nil {
			return err
		}
	}
	for _, finding := range findings {
		row := []string{
			finding.Platform,
			finding.Repository,
			finding.FilePath,
			finding.Package,
			finding.Version,
			finding.Rule.Severity.String(),
			finding.Rule.ID,
			finding.Rule.Range,
			finding.Rule.Description,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>npmguard report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; }
th { background: #f0f0f0; }
.sev-HIGH { color: #c0392b; font-weight: bold; }
.sev-MEDIUM { color: #d68910; font-weight: bold; }
.sev-LOW { color: #2471a3; }
.sev-UNKNOWN { color: #5d6d7e; }
.clean { color: #1e8449; font-weight: bold; }
</style>
</head>
<body>
<h1>npm dependency scan report</h1>
<p>Scanned {{len .Summary.Targets}} repositories on {{.Summary.Platform}}
from {{.Summary.StartedAt.Format "2006-01-02 15:04:05 MST"}}
to {{.Summary.FinishedAt.Format "2006-01-02 15:04:05 MST"}}.</p>
<p>Total: {{.Summary.Total}} (high {{.Summary.High}}, medium {{.Summary.Medium}}, low {{.Summary.Low}})</p>
{{if .Summary.FailedTargets}}<p>Failed targets: {{range .Summary.FailedTargets}}{{.}} {{end}}</p>{{end}}
{{if .Findings}}
<table>
<tr><th>Repository</th><th>File</th><th>Package</th><th>Version</th><th>Severity</th><th>ID</th><th>Vulnerable range</th></tr>
{{range .Findings}}
<tr>
<td>{{.Repository}}</td>
<td>{{.FilePath}}</td>
<td>{{.Package}}</td>
<td>{{.Version}}</td>
<td class="sev-{{.Rule.Severity}}">{{.Rule.Severity}}</td>
<td>{{.Rule.ID}}</td>
<td>{{.Rule.Range}}</td>
</tr>
{{end}}
</table>
{{else}}
<p class="clean">No vulnerabilities found.</p>
{{end}}
</body>
</html>
`))

func writeHTML(f io.Writer, findings []types.Finding, summary types.Summary) error {
	return htmlTemplate.Execute(f, jsonReport{Summary: summary, Findings: findings})
}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	for _, format := range Formats {
		if s == string(format) {
			return format, nil
		}
	}
	return "", oops.Errorf("unsupported report format: %s (supported: json, csv, html)", s)
}
