package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Template is a prompt template loaded from disk.
type Template struct {
	Path     string
	Contents string
}

// ResourceLoader resolves on-disk references (JSON Schema files, prompt
// templates) relative to the directory of the config document.
type ResourceLoader struct {
	BasePath string
}

func (l *ResourceLoader) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.BasePath, path)
}

// LoadSchema reads and compiles a JSON Schema file.
func (l *ResourceLoader) LoadSchema(path string) (*jsonschema.Schema, error) {
	full := l.resolve(path)
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	defer f.Close()

	doc, err := jsonschema.UnmarshalJSON(f)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(full, doc); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", path, err)
	}
	schema, err := compiler.Compile(full)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return schema, nil
}

// LoadTemplate reads a prompt template file.
func (l *ResourceLoader) LoadTemplate(path string) (Template, error) {
	full := l.resolve(path)
	contents, err := os.ReadFile(full)
	if err != nil {
		return Template{}, fmt.Errorf("read template %s: %w", path, err)
	}
	return Template{Path: path, Contents: string(contents)}, nil
}

var templateVarPattern = regexp.MustCompile(`\{\{-?\s*[a-zA-Z_][\w.]*`)

// hasVariables reports whether the template body references any variables.
// A template that does requires a corresponding schema declaration on its
// function so inputs can be validated before rendering.
func (t Template) hasVariables() bool {
	return templateVarPattern.MatchString(t.Contents)
}
