// Package durable defines the durable execution abstraction that the rest of
// mainloopd is built on: workflows, steps, topic-addressed messages, and
// durable sleep. It provides a pluggable interface so the main-thread and
// worker-task workflows can run on Temporal in production and on an
// in-process engine for local development and unit tests, without the
// workflow code itself changing.
package durable

import (
	"context"
	"time"
)

type (
	// Engine abstracts workflow/activity registration and execution so
	// adapters (Temporal, in-memory) can be swapped without touching workflow
	// code. Implementations translate these generic types into
	// backend-specific primitives (Temporal workflows/activities/signals, or
	// plain goroutines and channels).
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		// Must be called during service initialization before the engine's
		// workers start. Returns an error if the name is already registered.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers a step (activity) definition with the
		// engine. Steps are the only place a workflow may perform external
		// side effects; the engine persists a step's first result and replays
		// it verbatim on every subsequent workflow replay.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow launches a new workflow execution, or returns a
		// handle to the already-running execution if req.ID is already in
		// use. Starting by ID is the mechanism the application relies on for
		// "at most one running workflow per identifier" (main-thread per
		// user, worker per task).
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)

		// Send atomically enqueues a message for the workflow identified by
		// workflowID, on the given topic. Delivery is durable and
		// at-least-once within the target workflow's replay horizon; the
		// engine dedups by receive order so each message is observed exactly
		// once by the workflow.
		Send(ctx context.Context, workflowID, topic string, payload any) error

		// Close releases engine resources (client connections, worker
		// pools). Safe to call once during process shutdown.
		Close() error
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue, along with an application version used to gate replay
	// of in-flight executions (§4.1: a workflow whose recorded version
	// differs from the binary's current version is not resumed).
	WorkflowDefinition struct {
		// Name is the logical identifier registered with the engine, e.g.
		// "worker_task" or "main_thread".
		Name string
		// Queue is the named work queue new executions are scheduled on
		// (see internal/queue for the worker_tasks/main_threads policies).
		Queue string
		// Version is compiled into the binary and handed to the engine at
		// registration. Neither engine compares it with the version of an
		// existing execution: the temporal engine stores it without reading
		// it back and the inmem engine ignores it, so an execution started
		// under another Version is resumed like any other.
		Version string
		// Handler is the workflow function the engine invokes.
		Handler WorkflowFunc
	}

	// WorkflowFunc is a durable workflow entry point. It must be
	// deterministic: given the same sequence of Step/Recv/Sleep results, it
	// must reissue the same sequence of calls on replay. All non-determinism
	// (wall-clock reads, random numbers, direct I/O) belongs inside a Step.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes durable primitives to a running workflow:
	// executing steps, waiting on topic messages, and durable sleep. A
	// WorkflowContext is bound to one workflow execution and must not be
	// shared across goroutines; the engine serializes operations against it.
	WorkflowContext interface {
		// Context returns a plain Go context for cancellation propagation.
		// The temporal implementation returns context.Background(), so
		// Temporal deadlines and timeouts are not exposed through it.
		Context() context.Context

		// WorkflowID returns this execution's durable identifier (e.g. the
		// WorkerTask.id or "main-thread-<user_id>").
		WorkflowID() string

		// RunID returns the engine-assigned run identifier for
		// observability and log correlation.
		RunID() string

		// Step executes a durable step by name. The first execution persists
		// the step's return value; replays return the recorded value without
		// re-invoking the registered ActivityFunc. result must be a pointer.
		Step(ctx context.Context, req StepRequest, result any) error

		// Recv durably consumes the next message addressed to this
		// workflow matching topic (or any topic, if empty), blocking up to
		// timeout. Returns (false, nil) on timeout. FIFO is guaranteed per
		// (workflow, topic) pair; later messages for a still-open topic are
		// preserved for the next Recv call.
		Recv(ctx context.Context, topic string, timeout time.Duration, dest any) (bool, error)

		// Sleep durably suspends the workflow for d. The remaining duration
		// is preserved across process restarts; this is the only form of
		// delay a workflow may use (time.Sleep would not survive replay).
		Sleep(ctx context.Context, d time.Duration) error

		// Now returns the current time from a deterministic, replay-safe
		// source. Workflow code must never call time.Now() directly.
		Now() time.Time

		// Logger returns a logger scoped to this workflow execution.
		Logger() Logger
	}

	// StepRequest names the step to execute and carries its input. The
	// implementer supplies an ActivityFunc matching req.Name via
	// RegisterActivity before any workflow calls Step with that name.
	StepRequest struct {
		// Name identifies the registered ActivityDefinition to invoke.
		Name string
		// Input is passed to the step handler verbatim.
		Input any
		// RetryPolicy controls automatic retry of the underlying call when
		// the engine's transport (not the handler logic) fails transiently.
		// Application-level retry (e.g. MAX_JOB_RETRIES backoff) is the
		// caller's responsibility and is layered on top of Step, not
		// delegated to this policy.
		RetryPolicy RetryPolicy
		// Timeout bounds the step's execution. Zero means the engine default.
		Timeout time.Duration
	}

	// ActivityDefinition registers a step handler under a logical name.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
	}

	// ActivityFunc performs the actual side effect for a step (database
	// write, forge call, sandbox provisioning). Unlike workflow code,
	// ActivityFunc may do arbitrary I/O.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// RetryPolicy configures retry of a step's underlying transport call.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		// ID is the workflow's durable identifier; starting twice with the
		// same ID returns a handle to the existing execution rather than
		// erroring, which is how the system enforces "one worker per task id"
		// and "one main-thread per user_id".
		ID string
		// Workflow names the registered WorkflowDefinition to run.
		Workflow string
		// Queue optionally overrides the WorkflowDefinition's default queue.
		Queue string
		// Input is passed to the workflow handler.
		Input any
	}

	// WorkflowHandle lets callers interact with a running (or completed)
	// workflow execution.
	WorkflowHandle interface {
		// WorkflowID returns the execution's durable identifier.
		WorkflowID() string
		// Wait blocks until the workflow completes, decoding its result into
		// result (a pointer). Returns the workflow's terminal error, if any.
		Wait(ctx context.Context, result any) error
		// Cancel requests cancellation; the workflow observes it as a
		// context cancellation at its next suspension point (Step/Recv/Sleep).
		Cancel(ctx context.Context) error
	}

	// Logger is the minimal structured-logging surface workflow and step
	// code uses. Concrete loggers live in internal/telemetry.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}
)

// RunStatus enumerates the lifecycle states the engine tracks for a workflow
// execution, mirroring DurableWorkflowRecord.status in the data model.
type RunStatus string

const (
	RunStatusEnqueued RunStatus = "enqueued"
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusError    RunStatus = "error"
	RunStatusCanceled RunStatus = "cancelled"
)
