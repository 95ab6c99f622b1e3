// Package temporal implements durable.Engine on top of the Temporal Go SDK.
// It is the production durability backend: workflow state, step results, and
// pending Recv messages all survive process restarts because Temporal
// persists and replays workflow history.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

// Options configures the Temporal engine adapter. Either Client or
// ClientOptions must be provided.
type Options struct {
	Client        client.Client
	ClientOptions *client.Options

	// DefaultQueue names the task queue used when a WorkflowDefinition or
	// ActivityDefinition omits Queue.
	DefaultQueue string

	// DisableWorkerAutoStart defers starting workers until Worker().Start()
	// is called explicitly, so every workflow/activity can be registered
	// first.
	DisableWorkerAutoStart bool

	DisableTracing bool
	DisableMetrics bool

	Logger telemetry.Logger
}

// Engine implements durable.Engine using Temporal as the backend.
type Engine struct {
	client      client.Client
	closeClient bool

	defaultQueue      string
	autoStartDisabled bool
	logger            telemetry.Logger

	mu      sync.Mutex
	workers map[string]*workerBundle

	workersStarted bool

	workflowVersions sync.Map // name -> recorded Version string
}

// New constructs a Temporal-backed Engine.
func New(opts Options) (*Engine, error) {
	if opts.DefaultQueue == "" {
		return nil, fmt.Errorf("durable/temporal: default task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("durable/temporal: ClientOptions required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if !opts.DisableTracing {
			tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("durable/temporal: tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = append(clientOpts.Interceptors, tracer)
		}
		if !opts.DisableMetrics && clientOpts.MetricsHandler == nil {
			clientOpts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
		}
		var err error
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("durable/temporal: create client: %w", err)
		}
		closeClient = true
	}

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      opts.DefaultQueue,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            logger,
		workers:           make(map[string]*workerBundle),
	}, nil
}

// RegisterWorkflow registers def with the worker bound to its queue. Version
// is stored in workflowVersions; nothing reads it back, so no version check
// happens when an execution resumes.
func (e *Engine) RegisterWorkflow(_ context.Context, def durable.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("durable/temporal: invalid workflow definition")
	}
	bundle, err := e.workerForQueue(def.Queue)
	if err != nil {
		return err
	}
	e.workflowVersions.Store(def.Name, def.Version)
	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input any) (any, error) {
		wctx := newWorkflowContext(e, tctx)
		return def.Handler(wctx, input)
	})
	return nil
}

// RegisterActivity registers a step handler on the default queue's worker.
// Step schedules every activity on the default queue, so the steps of a
// workflow on any queue run on that worker.
func (e *Engine) RegisterActivity(_ context.Context, def durable.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("durable/temporal: invalid activity definition")
	}
	bundle, err := e.workerForQueue("")
	if err != nil {
		return err
	}
	bundle.registerActivity(def.Name, func(ctx context.Context, input any) (any, error) {
		return def.Handler(ctx, input)
	})
	return nil
}

// StartWorkflow executes req.Workflow under req.ID. If an execution with
// that ID is already running, Temporal's WorkflowIDReusePolicy (left at its
// default, RejectDuplicate) causes ExecuteWorkflow to return the existing
// run's handle instead of erroring, which is what gives the application its
// one-worker-per-task/one-main-thread-per-user guarantee.
func (e *Engine) StartWorkflow(ctx context.Context, req durable.WorkflowStartRequest) (durable.WorkflowHandle, error) {
	if req.Workflow == "" || req.ID == "" {
		return nil, fmt.Errorf("durable/temporal: workflow name and id are required")
	}
	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}
	queue := req.Queue
	if queue == "" {
		queue = e.defaultQueue
	}

	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: queue,
	}, req.Workflow, req.Input)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return &workflowHandle{client: e.client, id: req.ID, runID: alreadyStarted.RunId}, nil
		}
		return nil, err
	}
	return &workflowHandle{client: e.client, id: run.GetID(), runID: run.GetRunID()}, nil
}

// Send delivers payload to workflowID on topic via a Temporal signal.
func (e *Engine) Send(ctx context.Context, workflowID, topic string, payload any) error {
	return e.client.SignalWorkflow(ctx, workflowID, "", topic, payload)
}

// Close shuts down the Temporal client if this Engine created it.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

// Worker returns a controller to manually start/stop all registered
// workers when DisableWorkerAutoStart is set.
func (e *Engine) Worker() *WorkerController { return &WorkerController{engine: e} }

// WorkerController manages the lifecycle of the Temporal workers backing
// this Engine.
type WorkerController struct{ engine *Engine }

func (c *WorkerController) Start() error {
	c.engine.ensureWorkersStarted()
	return nil
}

func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()
	for _, b := range bundles {
		b.worker.Stop()
	}
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.workers[queue]; ok {
		return b, nil
	}
	w := worker.New(e.client, queue, worker.Options{})
	b := &workerBundle{queue: queue, worker: w, logger: e.logger}
	e.workers[queue] = b
	if e.workersStarted {
		b.start()
	}
	return b, nil
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

type workerBundle struct {
	queue     string
	worker    worker.Worker
	logger    telemetry.Logger
	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

func (b *workerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn any) {
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

type workflowHandle struct {
	client client.Client
	id     string
	runID  string
}

func (h *workflowHandle) WorkflowID() string { return h.id }

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	run := h.client.GetWorkflow(ctx, h.id, h.runID)
	return run.Get(ctx, result)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.id, h.runID)
}
