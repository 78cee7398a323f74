package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/session"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema of the arguments object.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Spec is the catalog entry offered to the model for one tool.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// MaxOutputChars bounds what a single tool result sends back to the model.
const MaxOutputChars = 20_000

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds all available tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]registeredTool
	timeout time.Duration
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{tools: make(map[string]registeredTool), logger: logger}
}

// Register compiles the tool's schema and adds it, replacing any tool with
// the same name.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return errors.New("tool has no name")
	}
	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return errors.Wrapf(err, "tool %s schema", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = registeredTool{tool: t, schema: schema}
	return nil
}

// SetTimeout bounds every later Invoke. Zero means no limit beyond the
// caller's context.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.tool, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Catalog lists every tool sorted by name.
func (r *Registry) Catalog() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, Spec{
			Name:        t.tool.Name(),
			Description: t.tool.Description(),
			Parameters:  t.tool.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

type outcome struct {
	out   string
	err   error
	panic any
}

// Invoke runs one call and always returns exactly one result for it. Unknown
// tools, schema violations, tool errors, panics and timeouts all become
// failures. A tool that ignores its context past the timeout is abandoned.
func (r *Registry) Invoke(ctx context.Context, call session.ToolCall) session.ToolResult {
	log := r.logger.With(zap.String("tool", call.Name), zap.String("call_id", call.ID))

	r.mu.RLock()
	t, ok := r.tools[call.Name]
	timeout := r.timeout
	r.mu.RUnlock()
	if !ok {
		return session.Failure(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	args, err := normalizeArgs(call.Args)
	if err != nil {
		return session.Failure(call.ID, fmt.Sprintf("invalid tool arguments: %v", err))
	}
	if err := t.schema.Validate(args); err != nil {
		return session.Failure(call.ID, fmt.Sprintf("tool args schema validation failed: %v", err))
	}
	if err := ctx.Err(); err != nil {
		return session.Failure(call.ID, "cancelled")
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{panic: p}
			}
		}()
		out, err := t.tool.Execute(callCtx, args)
		done <- outcome{out: out, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-callCtx.Done():
		o = outcome{err: callCtx.Err()}
	}

	switch {
	case o.panic != nil:
		log.Error("tool panicked", zap.Any("panic", o.panic))
		return session.Failure(call.ID, fmt.Sprintf("tool %s panicked: %v", call.Name, o.panic))
	case o.err != nil && ctx.Err() != nil:
		return session.Failure(call.ID, "cancelled")
	case o.err != nil && callCtx.Err() != nil:
		log.Warn("tool timed out", zap.Duration("timeout", timeout))
		return session.Failure(call.ID, fmt.Sprintf("tool %s timed out after %s", call.Name, timeout))
	case o.err != nil:
		log.Debug("tool failed", zap.Error(o.err))
		return session.Failure(call.ID, truncateChars(o.err.Error(), MaxOutputChars))
	}
	log.Debug("tool succeeded", zap.Int("bytes", len(o.out)))
	return session.Success(call.ID, truncateChars(o.out, MaxOutputChars))
}

// normalizeArgs round-trips args through JSON so validators and tools see
// the same value types a provider would have produced.
func normalizeArgs(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// truncateChars keeps the head and tail of s, at most max bytes in total,
// and marks the removed middle. Cuts fall on rune boundaries.
func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max / 2
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - (max - max/2)
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	removed := utf8.RuneCountInString(s[head:tail])
	marker := fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the middle. Re-run with narrower parameters to see them.]\n\n", removed)
	return s[:head] + marker + s[tail:]
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
