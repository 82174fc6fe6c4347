// Package templates renders the synthesized fallback bodies served when both
// the network and the cache come up empty.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles inline fallback templates with the sprig function set.
// Environment and filesystem helpers are stripped: fallback bodies are
// operator configuration, not a scripting surface.
type Renderer struct {
	funcs template.FuncMap
}

// Template is a compiled fallback body. Safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

// FallbackData is the activation for fallback templates.
type FallbackData struct {
	Path   string
	Status int
}

// NewRenderer constructs a renderer with the restricted function set.
func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	restricted := []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	}
	for _, name := range restricted {
		delete(funcs, name)
	}
	return &Renderer{funcs: funcs}
}

// Compile parses an inline template source. Whitespace-only sources return
// nil without error so optional config fields keep their defaults.
func (r *Renderer) Compile(name, source string) (*Template, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Render executes the compiled template with the supplied data.
func (t *Template) Render(data FallbackData) (string, error) {
	if t == nil {
		return "", errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name exposes the logical template name for logs.
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
