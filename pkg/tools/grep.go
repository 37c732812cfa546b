package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
	"github.com/laceai/lace/pkg/utils"
)

// MaxSearchResults bounds how many matching files GrepTool reports.
const MaxSearchResults = 100

// GrepTool searches file contents for a regular expression, similar to
// grep -rn, restricted by an optional include glob.
type GrepTool struct{}

// GrepInput is GrepTool's input.
type GrepInput struct {
	Pattern string `json:"pattern" jsonschema:"description=The regular expression to search for"`
	Path    string `json:"path" jsonschema:"description=The directory to search in,default=."`
	Include string `json:"include" jsonschema:"description=A glob restricting which files are searched, e.g. *.go"`
}

// matchLine is one matching line within a file.
type matchLine struct {
	LineNumber int
	Content    string
}

// searchResult is every match found within a single file.
type searchResult struct {
	Path    string
	Matches []matchLine
	ModTime time.Time
}

func (g *GrepTool) Name() string { return "grep" }

func (g *GrepTool) Description() string {
	return `Searches file contents for a regular expression, within path (default the
current directory), restricted to files matching the include glob when
given. Results are ordered by most recently modified file first.`
}

func (g *GrepTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true, Idempotent: true, ParallelSafe: true}
}

func (g *GrepTool) Timeout() time.Duration { return 30 * time.Second }

func (g *GrepTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[GrepInput]()
}

func (g *GrepTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[GrepInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if in.Pattern == "" {
		return tooltypes.Result{}, errors.New("pattern is required")
	}
	if in.Path == "" {
		in.Path = "."
	}

	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return tooltypes.Result{}, errors.Wrap(err, "invalid pattern")
	}

	results, err := searchDirectory(ctx, in.Path, in.Include, re)
	if err != nil {
		return tooltypes.Result{}, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ModTime.After(results[j].ModTime) })

	truncated := false
	if len(results) > MaxSearchResults {
		results = results[:MaxSearchResults]
		truncated = true
	}

	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(formatSearchResults(results, truncated))}}, nil
}

func searchDirectory(ctx context.Context, root, include string, re *regexp.Regexp) ([]searchResult, error) {
	var results []searchResult

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if include != "" && !fileIncluded(root, path, include) {
			return nil
		}
		if utils.IsBinaryFile(path) {
			return nil
		}

		res, err := searchFile(path, re)
		if err != nil {
			return nil
		}
		if res != nil {
			results = append(results, *res)
		}
		return nil
	})
	if err != nil && err != ctx.Err() {
		return nil, errors.Wrap(err, "walk directory")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return results, nil
}

func fileIncluded(root, path, include string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	if ok, _ := doublestar.PathMatch(include, rel); ok {
		return true
	}
	ok, _ := doublestar.PathMatch(include, filepath.Base(path))
	return ok
}

func searchFile(path string, re *regexp.Regexp) (*searchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat file")
	}

	var matches []matchLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, matchLine{LineNumber: lineNum, Content: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan file")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &searchResult{Path: path, Matches: matches, ModTime: info.ModTime()}, nil
}

func formatSearchResults(results []searchResult, truncated bool) string {
	if len(results) == 0 {
		return "no matches found"
	}

	var b strings.Builder
	for _, res := range results {
		lang := utils.DetectLanguageFromPath(res.Path)
		fmt.Fprintf(&b, "%s (%s):\n", res.Path, lang)
		for _, m := range res.Matches {
			fmt.Fprintf(&b, "  %d: %s\n", m.LineNumber, m.Content)
		}
	}
	if truncated {
		fmt.Fprintf(&b, "\n... results truncated to the first %d files\n", MaxSearchResults)
	}
	return b.String()
}
