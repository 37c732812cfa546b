package tools

import (
	"context"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// BannedCommands are refused outright when BashTool has no allow-list
// configured.
var BannedCommands = []string{"vim", "view", "less", "more", "cd"}

// BashTool runs a shell command to completion and returns its combined
// output. Long-running/background execution is out of scope for this
// tool — it is provided by a separate background-process component, not
// folded into every command invocation.
type BashTool struct {
	allowedCommands []string
	compiledGlobs   []glob.Glob
}

// NewBashTool builds a BashTool restricted to commands matching one of
// allowedCommands' glob patterns. An empty list falls back to
// BannedCommands instead.
func NewBashTool(allowedCommands []string) *BashTool {
	globs := make([]glob.Glob, len(allowedCommands))
	for i, pattern := range allowedCommands {
		globs[i] = glob.MustCompile(pattern)
	}
	return &BashTool{allowedCommands: allowedCommands, compiledGlobs: globs}
}

// BashInput is BashTool's input.
type BashInput struct {
	Description string `json:"description" jsonschema:"description=A short description of what this command does"`
	Command     string `json:"command" jsonschema:"description=The bash command to run"`
	TimeoutSec  int    `json:"timeout_sec" jsonschema:"description=The timeout in seconds,default=30"`
}

func (b *BashTool) Name() string { return "bash" }

func (b *BashTool) Description() string {
	return `Executes a shell command to completion and returns its combined stdout/stderr.

The command must not require interactive input, must not use heredoc, and
must be a single line (use ';' or '&&' to sequence several commands).
Prefer a dedicated search/read tool over invoking grep/find/cat through
this tool when one is available.`
}

func (b *BashTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{Destructive: true, ParallelSafe: false}
}

func (b *BashTool) Timeout() time.Duration { return 2 * time.Minute }

func (b *BashTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[BashInput]()
}

// matchesCommand reports whether command matches any configured allow-list
// glob pattern.
func (b *BashTool) matchesCommand(command string) bool {
	for _, g := range b.compiledGlobs {
		if g.Match(command) {
			return true
		}
	}
	return false
}

func (b *BashTool) validateCommand(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	firstWord := strings.Fields(command)[0]

	if len(b.allowedCommands) > 0 {
		if !b.matchesCommand(command) {
			return errors.Errorf("command not in allowed list: %s", command)
		}
		return nil
	}
	if slices.Contains(BannedCommands, firstWord) {
		return errors.Errorf("command is banned: %s", firstWord)
	}
	return nil
}

func (b *BashTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[BashInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if in.Command == "" {
		return tooltypes.Result{}, errors.New("command is required")
	}

	for _, part := range splitOnOperators(in.Command) {
		if err := b.validateCommand(part); err != nil {
			return tooltypes.Result{}, err
		}
	}

	timeout := time.Duration(in.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", in.Command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return tooltypes.Result{}, errors.Wrap(ctx.Err(), "command cancelled or timed out")
		}
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(string(output))}},
				errors.Errorf("command exited with status %d", exitErr.ExitCode())
		}
		return tooltypes.Result{}, errors.Wrap(err, "run command")
	}

	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(string(output))}}, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

func splitOnOperators(command string) []string {
	commands := []string{command}
	for _, op := range []string{"&&", "||", ";"} {
		var next []string
		for _, c := range commands {
			next = append(next, strings.Split(c, op)...)
		}
		commands = next
	}
	return commands
}
