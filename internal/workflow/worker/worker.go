// Package worker implements the worker-task durable workflow (SPEC_FULL.md
// §4.3): the finite state machine that drives a single WorkerTask from
// planning through CI-fix and code-review to a terminal status, coordinating
// the sandbox/executor-job adapter and the forge adapter while staying
// replay-safe under internal/durable.
package worker

import (
	"time"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/eventbus"
	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/sandbox"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

// WorkflowName is the durable.WorkflowDefinition.Name a WorkerTask's
// workflow is registered and started under; its durable workflow id is the
// WorkerTask.ID itself (§4.3 preamble).
const WorkflowName = "worker_task"

// Version is compiled into the binary and passed to the engine when the
// workflow is registered; bump it whenever a change reorders or removes
// Step/Recv/Sleep call sites in Workflow (§4.1). No engine in this module
// compares it with the version of an in-flight execution (see
// durable.WorkflowDefinition.Version).
const Version = "worker-task.v1"

// Config bounds the worker workflow's retry/backoff/polling behavior
// (§4.3.3, §4.3.4, §4.3.5, §4.3.6).
type Config struct {
	// MaxJobRetries bounds transient executor-job failure retries within a
	// single job launch (plan, implement, feedback, fix); default 5.
	MaxJobRetries int
	// JobRetryBackoff lists the exponential-backoff delays between job
	// retries, one entry per retry attempt (default 2,4,8,16,32s).
	JobRetryBackoff []time.Duration
	// MaxCIIterations bounds the CI verification loop's fix-job count
	// before the task fails (§4.3.4); default 5.
	MaxCIIterations int
	// PRPollInterval is the sleep between CI/PR status polls (§4.3.4,
	// §4.3.6); default 30s.
	PRPollInterval time.Duration
	// JobResultTimeout bounds a single job_result wait (§5); default 1h.
	JobResultTimeout time.Duration
	// UserWaitTimeout bounds waiting_questions/waiting_plan_review/
	// ready_to_implement (§5); default 24h.
	UserWaitTimeout time.Duration
	// DualPollInitial/Multiplier/Max configure the dual-source poll
	// schedule (§4.3.5); defaults 10s / 1.5 / 300s.
	DualPollInitial    time.Duration
	DualPollMultiplier float64
	DualPollMax        time.Duration
	// SandboxDestroyRetries/Backoff bound sandbox teardown (§4.3.7);
	// default 3 attempts, 2ⁿ seconds.
	SandboxDestroyRetries int
	// AgentHandle is the @-mention the forge command parser and
	// actionable-feedback detector look for in PR comments (§4.3.6).
	AgentHandle string
	// MaxReviewWallClock bounds total time spent in under_review across all
	// feedback sub-loops (§4.3.6, §9 MAX_REVIEW_WALLCLOCK); default 72h.
	MaxReviewWallClock time.Duration
}

// DefaultConfig returns Config populated with SPEC_FULL.md's defaults.
func DefaultConfig() Config {
	return Config{
		MaxJobRetries: 5,
		JobRetryBackoff: []time.Duration{
			2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
		},
		MaxCIIterations:       5,
		PRPollInterval:        30 * time.Second,
		JobResultTimeout:      time.Hour,
		UserWaitTimeout:       24 * time.Hour,
		DualPollInitial:       10 * time.Second,
		DualPollMultiplier:    1.5,
		DualPollMax:           300 * time.Second,
		SandboxDestroyRetries: 3,
		AgentHandle:           "@mainloop",
		MaxReviewWallClock:    72 * time.Hour,
	}
}

// Worker bundles the worker-task workflow with the capability interfaces
// its steps are built against. Its methods register durable.ActivityDefinitions
// (activities.go) and the durable.WorkflowFunc itself (state.go); a process
// wires one Worker per durable.Engine at startup.
type Worker struct {
	Store   storage.Store
	Forge   forge.Forge
	Sandbox sandbox.Sandbox
	Jobs    sandbox.ExecutorJob
	Bus     eventbus.Bus
	Log     telemetry.Logger
	Metrics telemetry.Metrics
	Config  Config

	// engine is captured by RegisterActivities so step handlers that must
	// message another workflow (worker_result -> main-thread) can reach
	// durable.Engine.Send; it is never used directly by Workflow itself.
	engine durable.Engine
}

// New constructs a Worker with DefaultConfig; callers may override Config
// fields before registering it with a durable.Engine.
func New(store storage.Store, fg forge.Forge, sb sandbox.Sandbox, jobs sandbox.ExecutorJob, bus eventbus.Bus, log telemetry.Logger, metrics telemetry.Metrics) *Worker {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Worker{Store: store, Forge: fg, Sandbox: sb, Jobs: jobs, Bus: bus, Log: log, Metrics: metrics, Config: DefaultConfig()}
}

// Input is the durable.WorkflowStartRequest.Input a worker-task workflow is
// launched with; TaskID must already exist in storage.
type Input struct {
	TaskID string `json:"task_id"`
}

// Output is the terminal value Workflow returns; Wait callers decode into
// this.
type Output struct {
	Status model.TaskStatus `json:"status"`
	PRURL  string           `json:"pr_url,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// taskEvent adapts a worker-task status change into an eventbus.Event.
type taskEvent struct {
	addr   eventbus.Address
	kind   string
	Status string `json:"status"`
}

func (e taskEvent) Address() eventbus.Address { return e.addr }
func (e taskEvent) Type() string              { return e.kind }

func newTaskEvent(userID, taskID, kind, status string) taskEvent {
	return taskEvent{addr: eventbus.Address{UserID: userID, TaskID: taskID}, kind: kind, Status: status}
}
