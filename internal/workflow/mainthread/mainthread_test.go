package mainthread_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	classifierfake "github.com/mainloopdev/mainloopd/internal/classifier/fake"
	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/durable/inmem"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/storage/memory"
	"github.com/mainloopdev/mainloopd/internal/workflow/mainthread"
	"github.com/mainloopdev/mainloopd/internal/workflow/worker"
)

// newHarness wires a MainThread against an in-memory store and engine, plus
// a no-op stand-in for the worker-task workflow so spawnWorker's
// StartWorkflow call succeeds without pulling in the whole worker package's
// activity set.
func newHarness(t *testing.T) (storage.Store, durable.Engine, string) {
	t.Helper()
	store := memory.New()
	cls := classifierfake.New("acme/widgets")
	eng := inmem.New(nil)

	mt := mainthread.New(store, cls, nil, nil, nil)
	require.NoError(t, mt.RegisterActivities(context.Background(), eng))
	require.NoError(t, eng.RegisterWorkflow(context.Background(), durable.WorkflowDefinition{
		Name:    worker.WorkflowName,
		Queue:   queue.WorkerTasks,
		Version: "stub",
		Handler: func(durable.WorkflowContext, any) (any, error) { return nil, nil },
	}))

	userID := "user-1"
	wfID := queue.MainThreadWorkflowID(userID)
	_, err := eng.StartWorkflow(context.Background(), durable.WorkflowStartRequest{
		ID:       wfID,
		Workflow: mainthread.WorkflowName,
		Input:    mainthread.Input{UserID: userID},
	})
	require.NoError(t, err)

	return store, eng, userID
}

func send(t *testing.T, eng durable.Engine, wfID, topic string, payload any) {
	t.Helper()
	require.NoError(t, eng.Send(context.Background(), wfID, topic, payload))
}

func awaitMainThread(t *testing.T, store storage.Store, userID string, pred func(*model.MainThread) bool) *model.MainThread {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := store.GetMainThreadByUser(context.Background(), userID)
		if err == nil && pred(m) {
			return m
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for main thread condition")
	return nil
}

func pendingItems(t *testing.T, store storage.Store, userID string) []*model.QueueItem {
	t.Helper()
	items, err := store.ListPendingQueueItems(context.Background(), userID)
	require.NoError(t, err)
	return items
}

// TestSpawnWorkerFromNewMessage drives the user_message -> spawn_worker arm
// of §4.6: a "/new ..." message must create a WorkerTask, start its
// workflow, record the task id on active_task_ids, and surface a
// "task started" inbox notification.
func TestSpawnWorkerFromNewMessage(t *testing.T) {
	store, eng, userID := newHarness(t)
	wfID := queue.MainThreadWorkflowID(userID)

	send(t, eng, wfID, model.TopicUserMessage, model.UserMessageEnvelope{
		MessageID: "m1", UserID: userID, Text: "/new Add dark mode toggle", SentAt: time.Now(),
	})

	m := awaitMainThread(t, store, userID, func(m *model.MainThread) bool { return len(m.ActiveTaskIDs) == 1 })
	taskID := m.ActiveTaskIDs[0]

	task, err := store.GetWorkerTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, "Add dark mode toggle", task.Description)
	require.Equal(t, model.TaskStatusPending, task.Status)

	items := pendingItems(t, store, userID)
	require.Len(t, items, 1)
	require.Equal(t, model.QueueItemNotification, items[0].ItemType)
	require.Equal(t, taskID, items[0].TaskID)
}

// TestRouteToSingleActiveTaskFallsBackToReview drives routeToTask's default
// arm (§4.6): a message arriving while the sole active task sits in a
// status that can't accept free-form input mid-phase (here, its starting
// "pending" status, still mid-planning) surfaces a review-priority inbox
// item instead of being silently dropped. The active task is established
// through spawnWorker itself, not by writing storage directly, so the
// second message is classified against the same live active_task_ids the
// running workflow goroutine holds.
func TestRouteToSingleActiveTaskFallsBackToReview(t *testing.T) {
	store, eng, userID := newHarness(t)
	wfID := queue.MainThreadWorkflowID(userID)

	send(t, eng, wfID, model.TopicUserMessage, model.UserMessageEnvelope{
		MessageID: "m1", UserID: userID, Text: "/new Refactor auth", SentAt: time.Now(),
	})
	m := awaitMainThread(t, store, userID, func(m *model.MainThread) bool { return len(m.ActiveTaskIDs) == 1 })
	taskID := m.ActiveTaskIDs[0]

	send(t, eng, wfID, model.TopicUserMessage, model.UserMessageEnvelope{
		MessageID: "m2", UserID: userID, Text: "how's it going?", SentAt: time.Now(),
	})

	var items []*model.QueueItem
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		items = pendingItems(t, store, userID)
		if len(items) == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Len(t, items, 2)

	var review *model.QueueItem
	for _, it := range items {
		if it.ItemType == model.QueueItemReview {
			review = it
		}
	}
	require.NotNil(t, review, "expected a review-type inbox item among %+v", items)
	require.Equal(t, taskID, review.TaskID)
	require.Equal(t, "how's it going?", review.Content)
}

// TestWorkerResultRemovesActiveTask drives the worker_result arm of §4.6: a
// terminal status must materialize an inbox item and drop the task from
// active_task_ids. The active task is established through the workflow's
// own spawn_worker path (rather than writing active_task_ids directly to
// storage) so the assertion exercises the same in-memory state the running
// workflow goroutine actually holds.
func TestWorkerResultRemovesActiveTask(t *testing.T) {
	store, eng, userID := newHarness(t)
	wfID := queue.MainThreadWorkflowID(userID)

	send(t, eng, wfID, model.TopicUserMessage, model.UserMessageEnvelope{
		MessageID: "m1", UserID: userID, Text: "/new Add dark mode toggle", SentAt: time.Now(),
	})
	m := awaitMainThread(t, store, userID, func(m *model.MainThread) bool { return len(m.ActiveTaskIDs) == 1 })
	taskID := m.ActiveTaskIDs[0]

	send(t, eng, wfID, model.TopicWorkerResult, model.WorkerResultEnvelope{
		TaskID: taskID, Status: model.TaskStatusCompleted, PRURL: "https://forge.test/acme/widgets/pull/4",
	})

	awaitMainThread(t, store, userID, func(m *model.MainThread) bool { return len(m.ActiveTaskIDs) == 0 })

	items := pendingItems(t, store, userID)
	require.Len(t, items, 2)
	require.Equal(t, model.QueueItemNotification, items[0].ItemType)
	require.Equal(t, model.QueueItemNotification, items[1].ItemType)

	var sawCompletion bool
	for _, it := range items {
		if it.Content == "https://forge.test/acme/widgets/pull/4" {
			sawCompletion = true
		}
	}
	require.True(t, sawCompletion)
}
