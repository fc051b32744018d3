package prompts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Meta holds the frontmatter metadata of a prompt template.
type Meta struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// Loader resolves prompt templates, checking override directories before
// the embedded defaults. First match wins.
type Loader struct {
	overrideDirs []string
	cache        map[string]*template.Template
	mu           sync.RWMutex
}

// NewLoader creates a loader with the given override directories.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

func (l *Loader) loadContent(name string) ([]byte, error) {
	rel := name + ".md"
	for _, dir := range l.overrideDirs {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err == nil {
			return data, nil
		}
	}
	data, err := embeddedFS.ReadFile("templates/" + rel)
	if err != nil {
		return nil, fmt.Errorf("prompt template %q: %w", name, err)
	}
	return data, nil
}

// splitFrontmatter separates optional YAML frontmatter from the body.
func splitFrontmatter(content []byte) (*Meta, []byte, error) {
	s := string(content)
	if !strings.HasPrefix(s, "---\n") {
		return &Meta{}, content, nil
	}
	rest := s[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return &Meta{}, content, nil
	}
	var meta Meta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	body := strings.TrimPrefix(rest[end+4:], "\n")
	return &meta, []byte(body), nil
}

// Render loads, parses, and executes the named template with data.
func (l *Loader) Render(name string, data any) (string, error) {
	l.mu.RLock()
	tmpl := l.cache[name]
	l.mu.RUnlock()

	if tmpl == nil {
		content, err := l.loadContent(name)
		if err != nil {
			return "", err
		}
		_, body, err := splitFrontmatter(content)
		if err != nil {
			return "", err
		}
		tmpl, err = template.New(name).Parse(string(body))
		if err != nil {
			return "", fmt.Errorf("parsing template %q: %w", name, err)
		}
		l.mu.Lock()
		l.cache[name] = tmpl
		l.mu.Unlock()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}
	return buf.String(), nil
}

// MetaFor returns the frontmatter metadata of the named template.
func (l *Loader) MetaFor(name string) (*Meta, error) {
	content, err := l.loadContent(name)
	if err != nil {
		return nil, err
	}
	meta, _, err := splitFrontmatter(content)
	return meta, err
}
