package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

const (
	templatesDir       = "templates"
	exportTemplateFile = "export.tmpl"
)

var (
	exportTemplate *template.Template
	templateMutex  sync.RWMutex

	defaultExportTemplate = `# {{ .Book.Title }}
{{- if .Book.Author }}
*{{ .Book.Author }}*
{{- end }}

{{ range .Quotes -}}
> {{ .Text | trim | replace "\n" "\n> " }}
{{- if .Page }}
> (p. {{ .Page }})
{{- end }}
{{- if .Note }}

{{ .Note | trim }}
{{- end }}

{{ end -}}
_{{ len .Quotes }} {{ if eq (len .Quotes) 1 }}quote{{ else }}quotes{{ end }}, exported {{ .ExportedAt | date "2006-01-02" }}_
`
)

// exportData is the template context for a book export
type exportData struct {
	Book       Book
	Quotes     []Quote
	ExportedAt time.Time
}

// loadExportTemplate loads the export template from file or writes the
// default one to disk
func loadExportTemplate() {
	templateMutex.Lock()
	defer templateMutex.Unlock()

	// Ensure templates directory exists
	if err := os.MkdirAll(templatesDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create templates directory: %v", err)
	}

	templatePath := filepath.Join(templatesDir, exportTemplateFile)
	content, err := os.ReadFile(templatePath)
	if err != nil {
		log.Infof("Could not read %s, using default template: %v", templatePath, err)
		content = []byte(defaultExportTemplate)
		if err := os.WriteFile(templatePath, content, 0644); err != nil {
			log.Errorf("Failed to write default export template to disk: %v", err)
		}
	}

	tmpl, err := parseExportTemplate(string(content))
	if err != nil {
		log.Errorf("Failed to parse %s, using default template: %v", templatePath, err)
		tmpl = template.Must(parseExportTemplate(defaultExportTemplate))
	}
	exportTemplate = tmpl
}

func parseExportTemplate(content string) (*template.Template, error) {
	return template.New("export").Funcs(sprig.FuncMap()).Parse(content)
}

// renderExport renders the quotes of a book as markdown
func renderExport(book *Book, now time.Time) (string, error) {
	templateMutex.RLock()
	tmpl := exportTemplate
	templateMutex.RUnlock()
	if tmpl == nil {
		tmpl = template.Must(parseExportTemplate(defaultExportTemplate))
	}

	data := exportData{
		Book:       *book,
		Quotes:     book.Quotes,
		ExportedAt: now,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing export template: %w", err)
	}
	return buf.String(), nil
}
