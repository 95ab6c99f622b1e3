package temporal

import (
	"context"
	"fmt"
	"sort"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

// workflowContext adapts a Temporal workflow.Context into durable.WorkflowContext.
type workflowContext struct {
	engine     *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
	logger     durable.Logger
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     wrapLogger(e.logger),
	}
}

// wrapLogger adapts a telemetry.Logger (which takes a context.Context) for
// use inside workflow code, where the only safe context is workflow.Context.
// Workflow replay must never read wall-clock time or do I/O directly, but
// emitting a log line through the engine's configured logger is permitted
// since Temporal's own logging interceptors already suppress duplicate
// replay output.
func wrapLogger(l telemetry.Logger) durable.Logger { return loggerAdapter{l} }

type loggerAdapter struct{ l telemetry.Logger }

func (a loggerAdapter) Debug(ctx context.Context, msg string, keyvals ...any) { a.l.Debug(ctx, msg, keyvals...) }
func (a loggerAdapter) Info(ctx context.Context, msg string, keyvals ...any)  { a.l.Info(ctx, msg, keyvals...) }
func (a loggerAdapter) Warn(ctx context.Context, msg string, keyvals ...any)  { a.l.Warn(ctx, msg, keyvals...) }
func (a loggerAdapter) Error(ctx context.Context, msg string, keyvals ...any) { a.l.Error(ctx, msg, keyvals...) }

func (w *workflowContext) Context() context.Context {
	return context.Background()
}

func (w *workflowContext) WorkflowID() string { return w.workflowID }
func (w *workflowContext) RunID() string      { return w.runID }
func (w *workflowContext) Now() time.Time     { return workflow.Now(w.ctx) }
func (w *workflowContext) Logger() durable.Logger { return w.logger }

// Step executes a durable activity by name. Temporal persists its result in
// workflow history on first execution and replays the recorded value on
// every subsequent replay without re-invoking the handler.
func (w *workflowContext) Step(_ context.Context, req durable.StepRequest, result any) error {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	actx := workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		TaskQueue:              w.engine.defaultQueue,
		ScheduleToStartTimeout: timeout,
		StartToCloseTimeout:    timeout,
		RetryPolicy:            convertRetryPolicy(req.RetryPolicy),
	})
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	if err := fut.Get(actx, result); err != nil {
		return normalizeError(err)
	}
	return nil
}

// Recv waits for the next signal on topic, using a workflow timer so the
// wait remains replay-safe and bounded. An empty topic means "any of the
// topics in the registry" (the main-thread event loop's mode, §4.6); that
// case is delegated to recvAny since Temporal has no literal wildcard signal
// channel to select on.
func (w *workflowContext) Recv(_ context.Context, topic string, timeout time.Duration, dest any) (bool, error) {
	if topic == "" {
		return w.recvAny(timeout, dest)
	}

	ch := workflow.GetSignalChannel(w.ctx, topic)

	if timeout <= 0 {
		ch.Receive(w.ctx, dest)
		return true, nil
	}

	timerCtx, cancel := workflow.WithCancel(w.ctx)
	defer cancel()
	timer := workflow.NewTimer(timerCtx, timeout)

	var got bool
	sel := workflow.NewSelector(w.ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(w.ctx, dest)
		got = true
	})
	sel.AddFuture(timer, func(workflow.Future) {})
	sel.Select(w.ctx)

	return got, nil
}

// envelopeTopics lists every topic in envelopeZeroValues in a fixed,
// deterministic order. recvAny's selector must register channels in the
// same order on every replay, so iterating the map directly (whose order
// is randomized per process) would break Temporal's determinism
// requirement.
var envelopeTopics = sortedEnvelopeTopics()

func sortedEnvelopeTopics() []string {
	topics := make([]string, 0, len(envelopeZeroValues))
	for t := range envelopeZeroValues {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// recvAny selects across every registered topic's signal channel at once,
// decoding whichever arrives first into dest (which must be a
// *model.Envelope) via that topic's concrete envelope type — the multi-topic
// equivalent of the inmem engine's any-topic mailbox Recv.
func (w *workflowContext) recvAny(timeout time.Duration, dest any) (bool, error) {
	destEnv, ok := dest.(*model.Envelope)
	if !ok {
		return false, fmt.Errorf("durable/temporal: wildcard Recv requires a *model.Envelope destination")
	}

	sel := workflow.NewSelector(w.ctx)
	var got bool
	for _, topic := range envelopeTopics {
		topic := topic
		zero := envelopeZeroValues[topic]
		ch := workflow.GetSignalChannel(w.ctx, topic)
		sel.AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
			v := zero()
			c.Receive(w.ctx, v)
			*destEnv = derefEnvelope(v)
			got = true
		})
	}

	if timeout > 0 {
		timerCtx, cancel := workflow.WithCancel(w.ctx)
		defer cancel()
		timer := workflow.NewTimer(timerCtx, timeout)
		sel.AddFuture(timer, func(workflow.Future) {})
	}

	sel.Select(w.ctx)
	return got, nil
}

// Sleep suspends the workflow for d using a Temporal durable timer, which
// survives worker restarts and replays without re-executing.
func (w *workflowContext) Sleep(_ context.Context, d time.Duration) error {
	if err := workflow.Sleep(w.ctx, d); err != nil {
		return normalizeError(err)
	}
	return nil
}

// normalizeError translates Temporal's cancellation error into the standard
// context.Canceled so workflow code can classify cancellation uniformly
// across the Temporal and in-memory engine backends.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

func convertRetryPolicy(r durable.RetryPolicy) *sdktemporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	policy := &sdktemporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}
