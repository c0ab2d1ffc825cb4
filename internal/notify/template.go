package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alert {{.EventLabel}}]
Unit: {{.Unit}}
Condition: {{.Condition}}
Severity: {{.Severity}}
Value: {{.Value}}
Triggered: {{.TriggeredAt}}
Current Status: {{.Status}}
{{ if .Detail }}Detail: {{.Detail}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Unit        string
	UnitID      string
	SiteID      string
	Condition   string
	Severity    string
	Value       string
	TriggeredAt string
	Status      string
	Detail      string
	Event       string
	EventLabel  string
	Level       int
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to
// DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
