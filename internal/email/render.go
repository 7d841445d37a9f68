package email

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
)

// ParseTemplate loads an HTML body template from disk.
func ParseTemplate(path string) (*template.Template, error) {
	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=zero").ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("template parse error: %w", err)
	}
	return tmpl, nil
}

// Render executes tmpl with data and returns the HTML body.
func Render(tmpl *template.Template, data any) (string, error) {
	var body bytes.Buffer

	if err := tmpl.Execute(&body, data); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}

	return body.String(), nil
}
