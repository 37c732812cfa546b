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

// FileWriteTool writes a file, overwriting it if it already exists.
type FileWriteTool struct{}

// FileWriteInput is FileWriteTool's input.
type FileWriteInput struct {
	FilePath string `json:"file_path" jsonschema:"description=The absolute path of the file to write"`
	Text     string `json:"text" jsonschema:"description=The full text to write to the file"`
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Description() string {
	return `Writes a file with the given text, overwriting it if it already exists.

To create an empty file, run "touch" through the bash tool instead. To
append to an existing file, read it first with file_read, then write the
combined text.`
}

func (t *FileWriteTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Destructive: true, ParallelSafe: false}
}

func (t *FileWriteTool) Timeout() time.Duration { return 10 * time.Second }

func (t *FileWriteTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[FileWriteInput]()
}

func (t *FileWriteTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[FileWriteInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if in.Text == "" {
		return tooltypes.Result{}, errors.New("text is required; run touch via bash to create an empty file")
	}

	if err := os.WriteFile(in.FilePath, []byte(in.Text), 0o644); err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "write file")
	}

	lines := strings.Split(in.Text, "\n")
	summary := fmt.Sprintf("file %s written successfully\n\n%s", in.FilePath, withLineNumbers(lines, 1))
	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(summary)}}, nil
}
