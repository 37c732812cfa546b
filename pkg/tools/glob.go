package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// MaxGlobResults bounds how many files GlobTool reports.
const MaxGlobResults = 100

// excludedHighVolumeDirs are skipped by default: directories that are
// typically very large and would flood results with irrelevant files.
var excludedHighVolumeDirs = map[string]bool{
	".git":             true,
	"node_modules":     true,
	".next":            true,
	".nuxt":            true,
	"dist":             true,
	"build":            true,
	".cache":           true,
	".parcel-cache":    true,
	"coverage":         true,
	".nyc_output":      true,
	".pytest_cache":    true,
	"__pycache__":      true,
	".venv":            true,
	"venv":             true,
	".tox":             true,
	"vendor":           true,
	".terraform":       true,
	".serverless":      true,
	"target":           true,
	".turbo":           true,
	".yarn":            true,
	"bower_components": true,
}

// GlobTool finds files matching a glob pattern, sorted newest-first.
type GlobTool struct{}

// GlobInput is GlobTool's input.
type GlobInput struct {
	Pattern           string `json:"pattern" jsonschema:"description=The glob pattern, e.g. **/*.go"`
	Path              string `json:"path" jsonschema:"description=The absolute path to search in,default=."`
	IncludeHighVolume bool   `json:"include_high_volume,omitempty" jsonschema:"description=Include high-volume directories such as .git and node_modules,default=false"`
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return `Finds files matching a glob pattern, e.g. "**/*.go" or "cmd/*.go".

Matches filenames only, not file content — use grep for content search.
High-volume directories (node_modules, .git, build output, ...) are
skipped by default. Results are capped at 100 files, newest-modified
first.`
}

func (t *GlobTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true, Idempotent: true, ParallelSafe: true}
}

func (t *GlobTool) Timeout() time.Duration { return 30 * time.Second }

func (t *GlobTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[GlobInput]()
}

func shouldExcludePath(path string, includeHighVolume bool) bool {
	if includeHighVolume {
		return false
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if excludedHighVolumeDirs[part] {
			return true
		}
	}
	return false
}

func (t *GlobTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[GlobInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if in.Pattern == "" {
		return tooltypes.Result{}, errors.New("pattern is required")
	}

	searchPath := in.Path
	if searchPath == "" {
		searchPath, err = os.Getwd()
		if err != nil {
			return tooltypes.Result{}, errors.Wrap(err, "resolve working directory")
		}
	}

	type matched struct {
		path    string
		modTime time.Time
	}
	var matches []matched

	walkErr := doublestar.GlobWalk(os.DirFS(searchPath), in.Pattern, func(path string, d fs.DirEntry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if shouldExcludePath(path, in.IncludeHighVolume) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		absPath := filepath.Join(searchPath, path)
		info, err := os.Stat(absPath)
		if err != nil {
			return nil
		}
		matches = append(matches, matched{path: absPath, modTime: info.ModTime()})
		return nil
	})
	if walkErr != nil {
		return tooltypes.Result{}, errors.Wrap(walkErr, "walk path")
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })

	truncated := false
	if len(matches) > MaxGlobResults {
		matches = matches[:MaxGlobResults]
		truncated = true
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.path)
		b.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&b, "\n... results truncated to the first %d files\n", MaxGlobResults)
	}
	if len(matches) == 0 {
		b.WriteString("no files matched")
	}

	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(b.String())}}, nil
}
