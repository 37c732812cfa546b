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

func TestGlobTool_Execute_MatchesPattern(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("text\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "c.go"), []byte("x\n"), 0o644))

	tool := &GlobTool{}
	result, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(`{"pattern":"**/*.go","path":%q}`, root)))
	require.NoError(t, err)
	text := result.Content[0].Text
	assert.Contains(t, text, "a.go")
	assert.NotContains(t, text, "node_modules")
}

func TestGlobTool_Execute_IncludeHighVolume(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "c.go"), []byte("x\n"), 0o644))

	tool := &GlobTool{}
	result, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(
		`{"pattern":"**/*.go","path":%q,"include_high_volume":true}`, root)))
	require.NoError(t, err)
	assert.Contains(t, result.Content[0].Text, "c.go")
}

func TestGlobTool_Execute_NoMatches(t *testing.T) {
	root := t.TempDir()
	tool := &GlobTool{}
	result, err := tool.Execute(context.Background(), []byte(fmt.Sprintf(`{"pattern":"*.missing","path":%q}`, root)))
	require.NoError(t, err)
	assert.Equal(t, "no files matched", result.Content[0].Text)
}

func TestGlobTool_Execute_MissingPattern(t *testing.T) {
	tool := &GlobTool{}
	_, err := tool.Execute(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}
