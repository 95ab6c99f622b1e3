package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/storage/memory"
)

func TestWorkerTaskStatusCAS(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	task := &model.WorkerTask{
		MainThreadID: "mt-1",
		UserID:       "user-1",
		RepoURL:      "https://github.com/acme/widgets",
		BaseBranch:   "main",
		TaskType:     model.TaskTypeFeature,
		Status:       model.TaskStatusPlanning,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateWorkerTask(ctx, task))

	err := s.UpdateWorkerTaskStatus(ctx, task.ID, model.TaskStatusImplementing, model.TaskStatusCancelled)
	assert.ErrorIs(t, err, storage.ErrConditionFailed)

	require.NoError(t, s.UpdateWorkerTaskStatus(ctx, task.ID, model.TaskStatusPlanning, model.TaskStatusCancelled))

	got, err := s.GetWorkerTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, got.Status)
}

func TestQueueItemRespondOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	qi := &model.QueueItem{
		MainThreadID: "mt-1",
		UserID:       "user-1",
		ItemType:     model.QueueItemQuestion,
		Priority:     model.PriorityNormal,
		Status:       model.QueueItemPending,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateQueueItem(ctx, qi))

	require.NoError(t, s.RespondToQueueItem(ctx, qi.ID, "yes", "user-1"))

	err := s.RespondToQueueItem(ctx, qi.ID, "no", "user-1")
	assert.ErrorIs(t, err, storage.ErrConditionFailed)
}

func TestMainThreadLookupByUser(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	mt := &model.MainThread{UserID: "user-42", Status: model.MainThreadActive, CreatedAt: time.Now()}
	require.NoError(t, s.CreateMainThread(ctx, mt))

	got, err := s.GetMainThreadByUser(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, mt.ID, got.ID)

	_, err = s.GetMainThreadByUser(ctx, "no-such-user")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
