// Package inmem provides an in-memory implementation of durable.Engine for
// local development and unit tests. It is not replay-safe: a process
// restart loses all running workflow state. Production deployments use
// internal/durable/temporal instead.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

type (
	eng struct {
		mu         sync.RWMutex
		workflows  map[string]durable.WorkflowDefinition
		activities map[string]durable.ActivityFunc
		handles    map[string]*handle
		statuses   map[string]durable.RunStatus
		logger     telemetry.Logger
	}

	handle struct {
		id     string
		mu     sync.Mutex
		done   chan struct{}
		result any
		err    error
		cancel context.CancelFunc
		wctx   *wfCtx
	}

	wfCtx struct {
		ctx   context.Context
		id    string
		runID string
		eng   *eng
		log   durable.Logger

		inbox chan message

		mu      sync.Mutex
		pending map[string][]any
	}

	// message tags a Send payload with the topic it was sent on, so Recv can
	// both filter on a specific topic and support the "any topic" wildcard
	// (an empty topic string).
	message struct {
		topic   string
		payload any
	}
)

// New returns a new in-memory Engine. Not safe for production: workflow
// state lives only in process memory and Step results are not persisted
// across restarts.
func New(log telemetry.Logger) durable.Engine {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &eng{
		workflows:  make(map[string]durable.WorkflowDefinition),
		activities: make(map[string]durable.ActivityFunc),
		handles:    make(map[string]*handle),
		statuses:   make(map[string]durable.RunStatus),
		logger:     log,
	}
}

func (e *eng) RegisterWorkflow(_ context.Context, def durable.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("durable/inmem: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("durable/inmem: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def durable.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("durable/inmem: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("durable/inmem: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def.Handler
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req durable.WorkflowStartRequest) (durable.WorkflowHandle, error) {
	if req.ID == "" {
		return nil, errors.New("durable/inmem: workflow id is required")
	}

	e.mu.Lock()
	if h, ok := e.handles[req.ID]; ok {
		e.mu.Unlock()
		return h, nil
	}
	def, ok := e.workflows[req.Workflow]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("durable/inmem: workflow %q not registered", req.Workflow)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	wc := &wfCtx{
		ctx:     runCtx,
		id:      req.ID,
		runID:   req.ID,
		eng:     e,
		log:     e.logger,
		inbox:   make(chan message, mailboxBufferSize),
		pending: make(map[string][]any),
	}
	h := &handle{id: req.ID, done: make(chan struct{}), cancel: cancel, wctx: wc}
	e.handles[req.ID] = h
	e.statuses[req.ID] = durable.RunStatusRunning
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		res, err := def.Handler(wc, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()

		e.mu.Lock()
		switch {
		case errors.Is(err, context.Canceled):
			e.statuses[req.ID] = durable.RunStatusCanceled
		case err != nil:
			e.statuses[req.ID] = durable.RunStatusError
		default:
			e.statuses[req.ID] = durable.RunStatusSuccess
		}
		e.mu.Unlock()
	}()

	return h, nil
}

func (e *eng) Send(ctx context.Context, workflowID, topic string, payload any) error {
	e.mu.RLock()
	h, ok := e.handles[workflowID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("durable/inmem: workflow %q not found", workflowID)
	}
	h.wctx.inbox <- message{topic: topic, payload: payload}
	return nil
}

func (e *eng) Close() error { return nil }

func (h *handle) WorkflowID() string { return h.id }

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assign(result, h.result)
		return h.err
	}
}

func (h *handle) Cancel(ctx context.Context) error {
	h.cancel()
	return nil
}

func (w *wfCtx) Context() context.Context { return w.ctx }
func (w *wfCtx) WorkflowID() string       { return w.id }
func (w *wfCtx) RunID() string            { return w.runID }
func (w *wfCtx) Now() time.Time           { return time.Now() }
func (w *wfCtx) Logger() durable.Logger   { return w.log }

func (w *wfCtx) Step(ctx context.Context, req durable.StepRequest, result any) error {
	w.eng.mu.RLock()
	fn, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return fmt.Errorf("durable/inmem: step %q not registered", req.Name)
	}
	res, err := fn(ctx, req.Input)
	if err != nil {
		return err
	}
	assign(result, res)
	return nil
}

// Recv consumes the next message for topic, or (topic == "") the next
// message on any topic. Messages observed for a different topic than the
// one requested are buffered in w.pending rather than dropped, so a later
// Recv for that topic (or for "any topic") still sees them — this is what
// lets the main-thread workflow's single event loop multiplex several
// topics without losing FIFO order per (workflow, topic) pair (§5).
func (w *wfCtx) Recv(ctx context.Context, topic string, timeout time.Duration, dest any) (bool, error) {
	if v, ok := w.popPending(topic); ok {
		assign(dest, v)
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
			return false, nil
		case m := <-w.inbox:
			t.Stop()
			if topic == "" || m.topic == topic {
				assign(dest, m.payload)
				return true, nil
			}
			w.mu.Lock()
			w.pending[m.topic] = append(w.pending[m.topic], m.payload)
			w.mu.Unlock()
		}
	}
}

// popPending pops a buffered message left behind by an earlier Recv call
// that consumed a different topic than the one it found, per message's doc
// comment.
func (w *wfCtx) popPending(topic string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if topic != "" {
		q := w.pending[topic]
		if len(q) == 0 {
			return nil, false
		}
		v := q[0]
		w.pending[topic] = q[1:]
		return v, true
	}
	for t, q := range w.pending {
		if len(q) == 0 {
			continue
		}
		v := q[0]
		w.pending[t] = q[1:]
		return v, true
	}
	return nil, false
}

func (w *wfCtx) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// mailboxBufferSize bounds how many unconsumed messages a single workflow's
// inbox can hold before Send starts blocking the sender. Durable topics in
// this application are request/response pairs, so this is generous
// headroom rather than a tuned capacity.
const mailboxBufferSize = 64

func assign(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
