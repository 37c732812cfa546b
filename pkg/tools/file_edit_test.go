package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileEditTool_Execute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc old() {}\n"), 0o644))
	tool := &FileEditTool{}

	result, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(
		`{"file_path":%q,"old_text":"func old() {}","new_text":"func new() {}"}`, path)))
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].Text, "replaced 1 occurrence")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "func new() {}")
}

func TestFileEditTool_Execute_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))
	tool := &FileEditTool{}

	_, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(
		`{"file_path":%q,"old_text":"nonexistent","new_text":"x"}`, path)))
	assert.ErrorContains(t, err, "not found")
}

func TestFileEditTool_Execute_AmbiguousRequiresReplaceAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.go")
	require.NoError(t, os.WriteFile(path, []byte("a\na\na\n"), 0o644))
	tool := &FileEditTool{}

	_, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(
		`{"file_path":%q,"old_text":"a","new_text":"b"}`, path)))
	assert.ErrorContains(t, err, "appears")
}

func TestFileEditTool_Execute_ReplaceAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.go")
	require.NoError(t, os.WriteFile(path, []byte("a\na\na\n"), 0o644))
	tool := &FileEditTool{}

	result, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(
		`{"file_path":%q,"old_text":"a","new_text":"b","replace_all":true}`, path)))
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].Text, "replaced 3 occurrence")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b\nb\nb\n", string(content))
}

func TestLineOf(t *testing.T) {
	assert.Equal(t, 2, lineOf("one\ntwo\nthree", "two"))
	assert.Equal(t, 0, lineOf("one\ntwo", "missing"))
}
