// Package storage defines the persistence contract mainloopd workflows and
// activities use to read and write MainThread, WorkerTask, and QueueItem
// records. Two implementations exist: internal/storage/postgres for
// production (pgx/sqlx/goose) and internal/storage/memory for unit tests
// and local development.
package storage

import (
	"context"
	"errors"

	"github.com/mainloopdev/mainloopd/internal/model"
)

// ErrNotFound is returned by Get* methods when no record matches.
var ErrNotFound = errors.New("storage: record not found")

// ErrConditionFailed is returned by conditional update methods when the
// record's current state no longer matches the expected precondition (e.g.
// a status compare-and-swap that lost a race).
var ErrConditionFailed = errors.New("storage: update precondition failed")

// Store is the relational/transactional CRUD contract the application is
// built against. Every method takes a context so the caller (almost always
// a durable.ActivityFunc) can bound its duration.
type Store interface {
	CreateMainThread(ctx context.Context, mt *model.MainThread) error
	GetMainThread(ctx context.Context, id string) (*model.MainThread, error)
	GetMainThreadByUser(ctx context.Context, userID string) (*model.MainThread, error)
	UpdateMainThread(ctx context.Context, mt *model.MainThread) error

	CreateWorkerTask(ctx context.Context, t *model.WorkerTask) error
	GetWorkerTask(ctx context.Context, id string) (*model.WorkerTask, error)
	ListWorkerTasksByMainThread(ctx context.Context, mainThreadID string) ([]*model.WorkerTask, error)
	UpdateWorkerTask(ctx context.Context, t *model.WorkerTask) error

	// UpdateWorkerTaskStatus performs a compare-and-swap status transition,
	// returning ErrConditionFailed if the task's current status is not
	// fromStatus. This is the one write path besides the owning workflow's
	// own UpdateWorkerTask calls; no non-test code in this module calls it.
	UpdateWorkerTaskStatus(ctx context.Context, id string, fromStatus, toStatus model.TaskStatus) error

	CreateQueueItem(ctx context.Context, qi *model.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	ListPendingQueueItems(ctx context.Context, userID string) ([]*model.QueueItem, error)
	RespondToQueueItem(ctx context.Context, id, response, respondedBy string) error

	// Close releases any connection pool the implementation owns.
	Close() error
}
