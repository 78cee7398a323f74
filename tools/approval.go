package tools

import "context"

type approvalKey struct{}

// WithApproval records that the user confirmed command. The shell tool only
// runs Dangerous commands whose exact text was approved this way.
func WithApproval(ctx context.Context, command string) context.Context {
	prev, _ := ctx.Value(approvalKey{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[command] = struct{}{}
	return context.WithValue(ctx, approvalKey{}, next)
}

// Approved reports whether command was approved on ctx.
func Approved(ctx context.Context, command string) bool {
	set, _ := ctx.Value(approvalKey{}).(map[string]struct{})
	_, ok := set[command]
	return ok
}
