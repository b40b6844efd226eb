package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"scribe/api/internal/content"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"marker": content.Marker,
	}

	templateContent, err := templateFS.ReadFile("templates/document.html")
	if err != nil {
		documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title         string
	ContentHTML   template.HTML
	References    []TemplateReference
	CitationCount int
	DocumentCount int
	GeneratedAt   time.Time
}

// TemplateReference is one entry of the references section.
type TemplateReference struct {
	Number       int
	DocumentName string
	Excerpt      string
	Page         string
	Section      string
	Unused       bool
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div>{{.ContentHTML}}</div>
  {{if .References}}
  <h2>References</h2>
  <ol>{{range .References}}<li value="{{.Number}}">{{.DocumentName}}</li>{{end}}</ol>
  {{end}}
</body>
</html>`
