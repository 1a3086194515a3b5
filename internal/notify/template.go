package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Preventivo {{.EventLabel}}]
Numero: {{.DisplayNumber}}
Owner: {{.OwnerID}}
{{- if .FrameID }}
Frame: {{.FrameID}}
{{- end }}
Total: {{.Total}} {{.Currency}}
At: {{.OccurredAt}}
{{- if .SnapshotHash }}
Snapshot: {{.SnapshotHash}}
{{- end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Event         string
	EventLabel    string
	QuoteID       string
	DisplayNumber string
	OwnerID       string
	FrameID       string
	Total         string
	Currency      string
	OccurredAt    string
	SnapshotHash  string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("quote-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("quote template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
