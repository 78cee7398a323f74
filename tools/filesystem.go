package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/shellmind/errors"
)

// DefaultHidden lists paths the file tools never read. Patterns without a
// slash are matched against every path segment; the others against the
// whole path.
var DefaultHidden = []string{
	".env", ".env.*", "*.pem", "*.key", "id_rsa*", "id_ed25519*", ".git", ".ssh",
}

const (
	maxGlobMatches = 500
	maxGrepMatches = 200
	maxGrepFile    = 1 << 20
	maxReadFile    = 1 << 20
)

// errTooLarge is returned by readRegular when a file exceeds its limit.
var errTooLarge = errors.Sentinel("file too large")

// readRegular reads at most limit bytes of a regular file. FIFOs, devices
// and sockets are refused before they are opened, so a read never blocks on
// them. Files that report a small size but yield more than limit bytes are
// refused as well.
func readRegular(ctx context.Context, path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("'%s' is not a regular file", path)
	}
	if info.Size() > limit {
		return nil, errTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

func checkHidden(path string, hidden []string) error {
	slashed := filepath.ToSlash(filepath.Clean(path))
	var segmentPatterns, pathPatterns []string
	for _, p := range hidden {
		if strings.Contains(p, "/") {
			pathPatterns = append(pathPatterns, p)
		} else {
			segmentPatterns = append(segmentPatterns, p)
		}
	}
	candidates := append([]string{slashed}, strings.Split(slashed, "/")...)
	for i, candidate := range candidates {
		patterns := segmentPatterns
		if i == 0 {
			patterns = pathPatterns
		}
		restricted, err := isPathRestricted(candidate, patterns)
		if err != nil {
			return err
		}
		if restricted {
			return errors.New("access denied: path '%s' is hidden", path)
		}
	}
	return nil
}

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	hidden []string
}

func NewReadFileTool(hidden []string) *ReadFileTool {
	return &ReadFileTool{hidden: hidden}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads a text file and returns its content with line numbers. Use it instead of cat."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path of the file to read.", "minLength": 1},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}
	if err := checkHidden(path, t.hidden); err != nil {
		return "", err
	}

	content, err := readRegular(ctx, path, maxReadFile)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return "", errors.New("file '%s' does not exist", path)
		case errors.Is(err, errTooLarge):
			return "", errors.New("file '%s' is larger than %d bytes; use grep or a narrower shell command", path, maxReadFile)
		}
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return "File is empty", nil
	}

	var b strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), len(content)+1)
	for n := 1; scanner.Scan(); n++ {
		fmt.Fprintf(&b, "%6d\t%s\n", n, scanner.Text())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// GlobTool lists files matching a doublestar pattern.
type GlobTool struct {
	hidden []string
}

func NewGlobTool(hidden []string) *GlobTool {
	return &GlobTool{hidden: hidden}
}

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Description() string {
	return "Finds files by glob pattern, with ** matching any number of directories (for example '**/*.yaml')."
}

func (t *GlobTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern.", "minLength": 1},
		},
		"required": []any{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok {
		return "", errors.New("missing or invalid 'pattern' argument")
	}
	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return "", errors.New("invalid glob pattern '%s'", pattern)
	}
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", errors.Wrapf(err, "glob '%s' failed", pattern)
	}

	visible := matches[:0]
	for _, m := range matches {
		if checkHidden(m, t.hidden) == nil {
			visible = append(visible, m)
		}
	}
	if len(visible) == 0 {
		return fmt.Sprintf("No files found matching pattern: %s", pattern), nil
	}
	sort.Strings(visible)
	total := len(visible)
	if total > maxGlobMatches {
		visible = visible[:maxGlobMatches]
	}
	out := fmt.Sprintf("Found %d matches for pattern '%s':\n%s", total, pattern, strings.Join(visible, "\n"))
	if total > maxGlobMatches {
		out += fmt.Sprintf("\n... (%d more)", total-maxGlobMatches)
	}
	return out, nil
}

// GrepTool searches file contents under a directory with a regular
// expression.
type GrepTool struct {
	hidden []string
}

func NewGrepTool(hidden []string) *GrepTool {
	return &GrepTool{hidden: hidden}
}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Searches files under a directory for lines matching a regular expression and returns path:line: text."
}

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern":        map[string]any{"type": "string", "description": "Regular expression (RE2 syntax).", "minLength": 1},
			"directory_path": map[string]any{"type": "string", "description": "Directory to search, default '.'."},
		},
		"required": []any{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok {
		return "", errors.New("missing or invalid 'pattern' argument")
	}
	dir, _ := stringArg(args, "directory_path")
	if dir == "" {
		dir = "."
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", errors.Wrapf(err, "invalid pattern '%s'", pattern)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", errors.New("path '%s' does not exist", dir)
	}
	if !info.IsDir() {
		return "", errors.New("path '%s' is not a directory", dir)
	}

	var matches []string
	errStop := errors.Sentinel("enough matches")
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (name == ".git" || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || checkHidden(path, t.hidden) != nil {
			return nil
		}
		found, err := grepFile(ctx, path, re, maxGrepMatches-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= maxGrepMatches {
			return errStop
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errStop) {
		return "", errors.Wrapf(walkErr, "grep interrupted")
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No matches found for pattern '%s' in '%s'.", pattern, dir), nil
	}
	out := fmt.Sprintf("Grep results for '%s' in '%s':\n%s", pattern, dir, strings.Join(matches, "\n"))
	if len(matches) >= maxGrepMatches {
		out += "\n... (match limit reached)"
	}
	return out, nil
}

func grepFile(ctx context.Context, path string, re *regexp.Regexp, limit int) ([]string, error) {
	data, err := readRegular(ctx, path, maxGrepFile)
	if err != nil {
		return nil, err
	}
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxGrepFile+1)
	for n := 1; scanner.Scan() && len(out) < limit; n++ {
		if line := scanner.Text(); re.MatchString(line) {
			out = append(out, fmt.Sprintf("%s:%d: %s", path, n, strings.TrimSpace(line)))
		}
	}
	return out, nil
}
