package fragments

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFragment(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadFragment_WithFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeFragment(t, dir, "reviewer.md", "---\nname: reviewer\ndescription: code review persona\nallowed_tools: [file_read, grep]\n---\nYou are a careful code reviewer.\n")

	p, err := NewProcessor(dir)
	require.NoError(t, err)

	f, err := p.LoadFragment("reviewer")
	require.NoError(t, err)

	assert.Equal(t, "reviewer", f.Metadata.Name)
	assert.Equal(t, "code review persona", f.Metadata.Description)
	assert.Equal(t, []string{"file_read", "grep"}, f.Metadata.AllowedTools)
	assert.Equal(t, "You are a careful code reviewer.", f.Content)
}

func TestLoadFragment_WithoutFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeFragment(t, dir, "plain.md", "Just a plain prompt.\n")

	p, err := NewProcessor(dir)
	require.NoError(t, err)

	f, err := p.LoadFragment("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", f.Metadata.Name)
	assert.Equal(t, "Just a plain prompt.", f.Content)
}

func TestLoadFragment_CommaSeparatedAllowedTools(t *testing.T) {
	dir := t.TempDir()
	writeFragment(t, dir, "ops.md", "---\nallowed_tools: \"bash, file_read\"\n---\nrun checks\n")

	p, err := NewProcessor(dir)
	require.NoError(t, err)

	f, err := p.LoadFragment("ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "file_read"}, f.Metadata.AllowedTools)
}

func TestLoadFragment_NotFound(t *testing.T) {
	p, err := NewProcessor(t.TempDir())
	require.NoError(t, err)

	_, err = p.LoadFragment("missing")
	assert.Error(t, err)
}

func TestLoadFragment_DirectoryPrecedence(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFragment(t, first, "x.md", "from first\n")
	writeFragment(t, second, "x.md", "from second\n")

	p, err := NewProcessor(first, second)
	require.NoError(t, err)

	f, err := p.LoadFragment("x")
	require.NoError(t, err)
	assert.Equal(t, "from first", f.Content)
}

func TestNewProcessor_RequiresDirs(t *testing.T) {
	_, err := NewProcessor()
	assert.Error(t, err)
}
