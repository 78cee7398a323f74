package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/shellmind/errors"
)

// ProcessCheckName is the registry name of ProcessCheckTool.
const ProcessCheckName = "check_process"

const (
	processListCommand = "ps aux"
	maxProcessMatches  = 50
)

// ProcessCheckTool reports whether processes matching a name are running.
// It lists processes through the shell runner and filters the listing
// itself, so the name never reaches the shell.
type ProcessCheckTool struct {
	runner Runner
}

func NewProcessCheckTool(runner Runner) *ProcessCheckTool {
	return &ProcessCheckTool{runner: runner}
}

func (t *ProcessCheckTool) Name() string { return ProcessCheckName }
func (t *ProcessCheckTool) Description() string {
	return "Checks whether a process is running by matching its name against the process list (ps aux). " +
		"Returns the matching lines with PID, CPU and memory usage."
}

func (t *ProcessCheckTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "Process name or part of its command line, matched case-insensitively.", "minLength": 1},
		},
		"required": []any{"name"},
	}
}

func (t *ProcessCheckTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, ok := stringArg(args, "name")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", errors.New("missing or invalid 'name' argument")
	}

	res, err := t.runner.Run(ctx, processListCommand)
	if err != nil {
		return "", errors.Wrapf(err, "listing processes")
	}
	if res.ExitCode != 0 {
		return "", errors.New("%s exited with code %d: %s", processListCommand, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	lines := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
	header, rows := lines[0], lines[1:]
	needle := strings.ToLower(name)
	var matches []string
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row), needle) && !isListingItself(row) {
			matches = append(matches, row)
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No running process matches '%s'.", name), nil
	}

	total := len(matches)
	if total > maxProcessMatches {
		matches = matches[:maxProcessMatches]
	}
	out := fmt.Sprintf("Found %d processes matching '%s':\n%s\n%s", total, name, header, strings.Join(matches, "\n"))
	if total > maxProcessMatches {
		out += fmt.Sprintf("\n... (%d more)", total-maxProcessMatches)
	}
	return out, nil
}

// isListingItself reports whether row is the ps process that produced the
// listing.
func isListingItself(row string) bool {
	return strings.HasSuffix(strings.TrimSpace(row), " "+processListCommand)
}
