// Package mainthread implements the per-user main-thread durable workflow
// (SPEC_FULL.md §4.6): a long-lived event loop that multiplexes a user's
// inbound messages, routing responses, and worker-task notifications into
// inbox (QueueItem) rows and MainThread.active_task_ids, without making any
// LLM or HTTP call of its own — that judgment is delegated to an injected
// internal/classifier.Classifier.
package mainthread

import (
	"time"

	"github.com/mainloopdev/mainloopd/internal/classifier"
	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/eventbus"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

// WorkflowName is the durable.WorkflowDefinition.Name a MainThread's
// workflow is registered and started under; its durable workflow id is
// queue.MainThreadWorkflowID(user_id).
const WorkflowName = "main_thread"

// Version is bumped whenever a change reorders or removes Step/Recv/Sleep
// call sites in Workflow (§4.1).
const Version = "main-thread.v1"

// HeartbeatInterval bounds a single Recv in the event loop (§4.6): the
// workflow wakes at least this often even with no inbound message; a wake
// with nothing received simply continues the loop.
const HeartbeatInterval = time.Hour

// MainThread bundles the main-thread workflow with the collaborators its
// steps are built against. A process wires one MainThread per durable.Engine
// at startup, alongside one worker.Worker.
type MainThread struct {
	Store      storage.Store
	Classifier classifier.Classifier
	Bus        eventbus.Bus
	Log        telemetry.Logger
	Metrics    telemetry.Metrics

	// engine is captured by RegisterActivities so the workflow can start new
	// worker-task executions and forward routed responses to them.
	engine durable.Engine
}

// New constructs a MainThread. cls must not be nil; pass
// internal/classifier/fake.New(...) absent a real chat-handling
// collaborator.
func New(store storage.Store, cls classifier.Classifier, bus eventbus.Bus, log telemetry.Logger, metrics telemetry.Metrics) *MainThread {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &MainThread{Store: store, Classifier: cls, Bus: bus, Log: log, Metrics: metrics}
}

// Input is the durable.WorkflowStartRequest.Input a main-thread workflow is
// launched with.
type Input struct {
	UserID string `json:"user_id"`
}

// Output is the terminal value Workflow returns; in steady state a
// main-thread workflow runs until externally cancelled, so Output is mostly
// relevant to tests that stop the loop deterministically.
type Output struct {
	UserID          string `json:"user_id"`
	MessagesHandled int    `json:"messages_handled"`
}

// inboxEvent adapts a QueueItem materialization into an eventbus.Event.
type inboxEvent struct {
	addr     eventbus.Address
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
}

func (e inboxEvent) Address() eventbus.Address { return e.addr }
func (inboxEvent) Type() string                { return "inbox_item" }

func newInboxEvent(userID, taskID, itemType, itemID string) inboxEvent {
	return inboxEvent{addr: eventbus.Address{UserID: userID, TaskID: taskID}, ItemType: itemType, ItemID: itemID}
}
