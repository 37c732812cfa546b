package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// FileEditTool edits a file by replacing an exact text block with a new
// one, requiring old_text to be unique in the file unless replace_all is
// set.
type FileEditTool struct{}

// FileEditInput is FileEditTool's input.
type FileEditInput struct {
	FilePath   string `json:"file_path" jsonschema:"description=The absolute path of the file to edit"`
	OldText    string `json:"old_text" jsonschema:"description=The exact text to be replaced"`
	NewText    string `json:"new_text" jsonschema:"description=The text to replace old_text with"`
	ReplaceAll bool   `json:"replace_all" jsonschema:"description=Replace every occurrence instead of requiring old_text to be unique,default=false"`
}

func (t *FileEditTool) Name() string { return "file_edit" }

func (t *FileEditTool) Description() string {
	return `Edits a file by replacing old_text with new_text.

old_text must match a block in the file exactly, including whitespace. By
default old_text must be unique in the file; set replace_all to replace
every occurrence instead (useful for renames). Use file_write to create a
new file rather than this tool.`
}

func (t *FileEditTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Destructive: true, ParallelSafe: false}
}

func (t *FileEditTool) Timeout() time.Duration { return 10 * time.Second }

func (t *FileEditTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[FileEditInput]()
}

func (t *FileEditTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[FileEditInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}

	raw, err := os.ReadFile(in.FilePath)
	if err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "read file")
	}
	original := string(raw)

	if !strings.Contains(original, in.OldText) {
		return tooltypes.Result{}, errors.New("old_text not found in the file")
	}

	occurrences := strings.Count(original, in.OldText)
	if !in.ReplaceAll && occurrences > 1 {
		return tooltypes.Result{}, errors.Errorf("old_text appears %d times; make it unique or set replace_all", occurrences)
	}

	var updated string
	var replaced int
	if in.ReplaceAll {
		updated = strings.ReplaceAll(original, in.OldText, in.NewText)
		replaced = occurrences
	} else {
		updated = strings.Replace(original, in.OldText, in.NewText, 1)
		replaced = 1
	}

	if err := os.WriteFile(in.FilePath, []byte(updated), 0o644); err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "write file")
	}

	startLine := lineOf(original, in.OldText)
	msg := fmt.Sprintf("file %s edited successfully, replaced %d occurrence(s) starting at line %d",
		in.FilePath, replaced, startLine)
	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(msg)}}, nil
}

// lineOf returns the 1-indexed line number where needle first appears in
// haystack, or 0 if absent.
func lineOf(haystack, needle string) int {
	idx := strings.Index(haystack, needle)
	if idx == -1 {
		return 0
	}
	return strings.Count(haystack[:idx], "\n") + 1
}
