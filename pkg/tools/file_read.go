package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// MaxOutputBytes bounds how much of a file FileReadTool returns.
const MaxOutputBytes = 100_000

// FileReadTool reads a file and returns its contents with line numbers,
// starting at an optional 1-indexed offset.
type FileReadTool struct{}

// FileReadInput is FileReadTool's input.
type FileReadInput struct {
	FilePath string `json:"file_path" jsonschema:"description=The absolute path of the file to read"`
	Offset   int    `json:"offset" jsonschema:"description=The 1-indexed line number to start reading from,default=1,minimum=1"`
}

func (r *FileReadTool) Name() string { return "file_read" }

func (r *FileReadTool) Description() string {
	return `Reads a file and returns its contents with line numbers, e.g.:

  1: def hello():
  2:    print("hello")

offset (1-indexed) skips to a later line, useful for large files.`
}

func (r *FileReadTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true, Idempotent: true, ParallelSafe: true}
}

func (r *FileReadTool) Timeout() time.Duration { return 10 * time.Second }

func (r *FileReadTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[FileReadInput]()
}

func (r *FileReadTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[FileReadInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if in.FilePath == "" {
		return tooltypes.Result{}, errors.New("file_path is required")
	}
	if in.Offset < 0 {
		return tooltypes.Result{}, errors.New("offset must be a positive integer")
	}
	if in.Offset == 0 {
		in.Offset = 1
	}

	file, err := os.Open(in.FilePath)
	if err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "open file")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)

	lineCount := 1
	for lineCount < in.Offset && scanner.Scan() {
		lineCount++
	}
	if lineCount < in.Offset {
		return tooltypes.Result{}, errors.Errorf("file has only %d lines, less than the requested offset %d", lineCount-1, in.Offset)
	}

	var lines []string
	bytesRead := 0
	for bytesRead < MaxOutputBytes && scanner.Scan() {
		lines = append(lines, scanner.Text())
		bytesRead += len(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "read file")
	}
	if bytesRead >= MaxOutputBytes {
		lines = append(lines, fmt.Sprintf("... [truncated, max output is %d bytes]", MaxOutputBytes))
	}

	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(withLineNumbers(lines, in.Offset))}}, nil
}

// withLineNumbers renders lines with a right-aligned, padded line-number
// prefix starting at offset.
func withLineNumbers(lines []string, offset int) string {
	var b strings.Builder
	width := len(fmt.Sprintf("%d", offset+len(lines)))
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d: %s\n", width, offset+i, line)
	}
	return b.String()
}
