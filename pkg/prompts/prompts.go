// Package prompts renders the agent prompts used by the workflow from
// embedded text templates.
package prompts

import (
	"embed"
	"io/fs"
	"slices"
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

//go:embed templates/*
var TemplateFS embed.FS

// Template paths.
const (
	ReasoningTemplate  = "templates/reasoning.tmpl"
	EvaluatorTemplate  = "templates/evaluator.tmpl"
	AutoFillTemplate   = "templates/autofill.tmpl"
	StepTemplatePrefix = "templates/steps/"
)

// Renderer renders named templates.
type Renderer struct {
	templates *template.Template
	parseErr  error
}

var defaultRenderer = NewRenderer(TemplateFS)

// NewRenderer parses every .tmpl file under templates/ in fsys.
func NewRenderer(fsys fs.FS) *Renderer {
	return NewRendererWithOverrides(fsys, nil)
}

// NewRendererWithOverrides parses fsys with the given template bodies
// replacing or adding to the embedded ones. Keys are template paths such as
// templates/reasoning.tmpl.
func NewRendererWithOverrides(fsys fs.FS, overrides map[string]string) *Renderer {
	r := &Renderer{}
	r.templates, r.parseErr = parseTemplates(fsys, overrides)
	return r
}

// Default returns the renderer over the embedded templates.
func Default() *Renderer {
	return defaultRenderer
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	if r.parseErr != nil {
		return "", errors.Wrap(r.parseErr, "failed to initialize templates")
	}
	if r.templates.Lookup(name) == nil {
		return "", errors.Errorf("template %s not found", name)
	}

	var buf strings.Builder
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "failed to execute template %s", name)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// Has reports whether a template named name exists.
func (r *Renderer) Has(name string) bool {
	return r.parseErr == nil && r.templates.Lookup(name) != nil
}

func parseTemplates(fsys fs.FS, overrides map[string]string) (*template.Template, error) {
	paths, err := collectTemplatePaths(fsys, "templates")
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect template paths")
	}

	templates := template.New("templates")
	var self *template.Template
	templates = templates.Funcs(template.FuncMap{
		"include": func(name string, data any) (string, error) {
			var buf strings.Builder
			err := self.ExecuteTemplate(&buf, name, data)
			return buf.String(), err
		},
		"default": func(value, fallback string) string {
			if strings.TrimSpace(value) == "" {
				return fallback
			}
			return value
		},
		"indent": func(prefix, s string) string {
			lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
			for i, line := range lines {
				lines[i] = prefix + line
			}
			return strings.Join(lines, "\n")
		},
	})
	self = templates

	for _, path := range paths {
		content, ok := overrides[path]
		if !ok {
			data, err := fs.ReadFile(fsys, path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read template file %s", path)
			}
			content = string(data)
		}
		if _, err := templates.New(path).Parse(content); err != nil {
			return nil, errors.Wrapf(err, "failed to parse template %s", path)
		}
	}

	for path, content := range overrides {
		if slices.Contains(paths, path) {
			continue
		}
		if _, err := templates.New(path).Parse(content); err != nil {
			return nil, errors.Wrapf(err, "failed to parse override template %s", path)
		}
	}

	return templates, nil
}

func collectTemplatePaths(fsys fs.FS, dir string) ([]string, error) {
	if _, err := fs.Stat(fsys, dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}
