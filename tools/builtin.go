package tools

import (
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/safety"
	"go.uber.org/zap"
)

// BuiltinOptions wires the collaborators of the built-in tools.
type BuiltinOptions struct {
	Runner           Runner
	Classifier       *safety.Classifier
	Searcher         Searcher
	MaxSearchResults int
	// Hidden defaults to DefaultHidden.
	Hidden  []string
	WorkDir string
}

// NewDefaultRegistry registers shell-exec, web-search and the read-only
// exploration tools, check_process among them.
func NewDefaultRegistry(opts BuiltinOptions, logger *zap.Logger) (*Registry, error) {
	if opts.Runner == nil {
		return nil, errors.New("shell runner is required")
	}
	hidden := opts.Hidden
	if hidden == nil {
		hidden = DefaultHidden
	}
	r := NewRegistry(logger)
	builtins := []Tool{
		NewShellExecTool(opts.Runner, opts.Classifier),
		NewReadFileTool(hidden),
		NewGlobTool(hidden),
		NewGrepTool(hidden),
		NewGitInfoTool(opts.WorkDir),
		NewEnvDetectorTool(),
		NewProcessCheckTool(opts.Runner),
	}
	if opts.Searcher != nil {
		builtins = append(builtins, NewWebSearchTool(opts.Searcher, opts.MaxSearchResults))
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
