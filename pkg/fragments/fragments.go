// Package fragments loads reusable system-prompt fragments: Markdown files
// with a YAML frontmatter block declaring a name/description and an
// optional tool allowlist, body text used verbatim as the prompt. It is
// trimmed to the fields Lace's Agent actually consumes — no
// template-argument substitution, no callback/recipe execution.
package fragments

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// Metadata is a fragment file's YAML frontmatter.
type Metadata struct {
	Name         string   `yaml:"name,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
}

// Fragment is one loaded fragment: its frontmatter plus the Markdown body
// to use as a system prompt.
type Fragment struct {
	Name     string
	Metadata Metadata
	Content  string
	Path     string
}

// Processor finds and loads fragments from a list of directories, searched
// in order.
type Processor struct {
	dirs []string
}

// NewProcessor builds a Processor searching dirs in order.
func NewProcessor(dirs ...string) (*Processor, error) {
	if len(dirs) == 0 {
		return nil, errors.New("at least one fragment directory must be specified")
	}
	return &Processor{dirs: dirs}, nil
}

// LoadFragment finds name(.md) in the configured directories and parses its
// frontmatter and body.
func (p *Processor) LoadFragment(name string) (*Fragment, error) {
	path, err := p.find(name)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read fragment %q", path)
	}

	metadata, body, err := parseFrontmatter(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "parse frontmatter in %q", path)
	}
	if metadata.Name == "" {
		metadata.Name = name
	}

	return &Fragment{Name: name, Metadata: metadata, Content: strings.TrimSpace(body), Path: path}, nil
}

func (p *Processor) find(name string) (string, error) {
	candidates := []string{name + ".md", name}
	for _, dir := range p.dirs {
		for _, c := range candidates {
			full := filepath.Join(dir, filepath.FromSlash(c))
			if _, err := os.Stat(full); err == nil {
				return full, nil
			}
		}
	}
	return "", errors.Errorf("fragment %q not found in %v", name, p.dirs)
}

// parseFrontmatter runs goldmark with the goldmark-meta extension purely to
// harvest the YAML frontmatter map (the rendered HTML is discarded — Lace
// wants the raw Markdown body, not HTML, as its system prompt), then
// strips the frontmatter block from the source to recover that body.
func parseFrontmatter(content string) (Metadata, string, error) {
	var metadata Metadata

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	pctx := parser.NewContext()
	var discard bytes.Buffer
	if err := md.Convert([]byte(content), &discard, parser.WithContext(pctx)); err != nil {
		return metadata, content, errors.Wrap(err, "convert markdown")
	}

	if fm := meta.Get(pctx); fm != nil {
		if v, ok := fm["name"].(string); ok {
			metadata.Name = v
		}
		if v, ok := fm["description"].(string); ok {
			metadata.Description = v
		}
		metadata.AllowedTools = toStringSlice(fm["allowed_tools"])
	}

	return metadata, stripFrontmatter(content), nil
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, s := range parts {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}
	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}
	return strings.Join(lines[end+1:], "\n")
}
