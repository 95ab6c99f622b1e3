package durable

import "context"

type wfCtxKey struct{}

// WithWorkflowContext returns a child context carrying wf, so step handlers
// invoked on behalf of a workflow can recover the originating WorkflowContext
// when they need to, e.g. to emit a workflow-scoped log line from deep inside
// a helper.
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WorkflowContextFromContext extracts a WorkflowContext previously attached
// with WithWorkflowContext, or nil if ctx carries none.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if v := ctx.Value(wfCtxKey{}); v != nil {
		if wf, ok := v.(WorkflowContext); ok {
			return wf
		}
	}
	return nil
}
