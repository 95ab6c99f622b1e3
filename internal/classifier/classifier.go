// Package classifier abstracts the decision the main-thread workflow needs
// for every inbound user_message: answer directly, route to an existing
// task, or spawn a new worker task. The core never makes an LLM call itself
// (spec.md §1 Non-goals, SPEC_FULL.md §4.3 "no LLM-based intent
// classification inside the worker") — that judgment belongs to the
// chat-handling collaborator. Classifier is the seam: internal/workflow/
// mainthread is built only against this interface, and
// internal/classifier/fake provides a deterministic rule-based stand-in
// exercised by tests and local runs.
package classifier

import (
	"context"

	"github.com/mainloopdev/mainloopd/internal/model"
)

// Kind enumerates the three dispositions a Classifier may return for one
// user_message (spec.md §4.6 event loop).
type Kind string

const (
	KindAnswer      Kind = "answer"
	KindRouteToTask Kind = "route_to_task"
	KindSpawnWorker Kind = "spawn_worker"
)

// SpawnSpec carries the WorkerTask fields a KindSpawnWorker decision seeds a
// new task with.
type SpawnSpec struct {
	RepoURL     string
	BaseBranch  string
	Description string
	Prompt      string
	TaskType    model.TaskType
	SkipPlan    bool
}

// Decision is the classifier's verdict on one UserMessageEnvelope.
type Decision struct {
	Kind Kind
	// Answer is the direct reply text for KindAnswer.
	Answer string
	// TaskID names the existing task to forward the message to for
	// KindRouteToTask.
	TaskID string
	// Spawn seeds a new WorkerTask for KindSpawnWorker.
	Spawn SpawnSpec
}

// Classifier decides what a single inbound user message should do. mt is
// the MainThread receiving the message; activeTaskIDs mirrors
// mt.ActiveTaskIDs at call time.
type Classifier interface {
	Classify(ctx context.Context, mt *model.MainThread, activeTaskIDs []string, msg model.UserMessageEnvelope) (Decision, error)
}
