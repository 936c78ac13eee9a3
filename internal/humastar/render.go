package humastar

import (
	"bytes"
	"html/template"
	"io/fs"
	"strings"
)

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict builds a map from key-value pairs for passing several values to a
	// nested template.
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"join": strings.Join,
	// trusted marks HTML the service escaped itself (lot details).
	"trusted": func(s string) template.HTML { return template.HTML(s) },
}

// Renderer executes named HTML fragment templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses every file matching pattern in fsys.
func NewRenderer(fsys fs.FS, pattern string) (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, pattern)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MustRender renders a template and panics on error.
// Use only with embedded templates known to exist.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}
