// Package postgres implements storage.Store on top of PostgreSQL using
// jmoiron/sqlx for query execution and struct scanning, with
// pgx/v5/stdlib registered as the underlying database/sql driver so
// connection pooling and type handling follow pgx rather than lib/pq.
// Schema migrations are managed by pressly/goose (see migrations/).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/storage"
)

type store struct {
	db *sqlx.DB
}

// Open connects to Postgres at dsn using the pgx stdlib driver and wraps
// the connection in sqlx. It does not run migrations (see Migrate), and
// cmd/mainloopd's startup opens the store without migrating.
func Open(ctx context.Context, dsn string) (storage.Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) Close() error { return s.db.Close() }

func (s *store) CreateMainThread(ctx context.Context, mt *model.MainThread) error {
	if mt.ID == "" {
		mt.ID = uuid.NewString()
	}
	ctxJSON, err := json.Marshal(mt.Context)
	if err != nil {
		return errors.Wrap(err, "marshal context")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO main_threads (id, user_id, workflow_run_id, status, created_at,
			last_activity_at, active_task_ids, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		mt.ID, mt.UserID, mt.WorkflowRunID, mt.Status, mt.CreatedAt,
		mt.LastActivityAt, jsonStrings(mt.ActiveTaskIDs), ctxJSON)
	if err != nil {
		return errors.Wrap(err, "insert main_thread")
	}
	return nil
}

func (s *store) GetMainThread(ctx context.Context, id string) (*model.MainThread, error) {
	return s.getMainThread(ctx, "id = $1", id)
}

func (s *store) GetMainThreadByUser(ctx context.Context, userID string) (*model.MainThread, error) {
	return s.getMainThread(ctx, "user_id = $1", userID)
}

func (s *store) getMainThread(ctx context.Context, where, arg string) (*model.MainThread, error) {
	var row mainThreadRow
	err := s.db.GetContext(ctx, &row, fmt.Sprintf(`
		SELECT id, user_id, workflow_run_id, status, created_at, last_activity_at,
			active_task_ids, context
		FROM main_threads WHERE %s`, where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select main_thread")
	}
	return row.toModel()
}

func (s *store) UpdateMainThread(ctx context.Context, mt *model.MainThread) error {
	ctxJSON, err := json.Marshal(mt.Context)
	if err != nil {
		return errors.Wrap(err, "marshal context")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE main_threads SET status = $2, last_activity_at = $3,
			active_task_ids = $4, context = $5
		WHERE id = $1`,
		mt.ID, mt.Status, mt.LastActivityAt, jsonStrings(mt.ActiveTaskIDs), ctxJSON)
	if err != nil {
		return errors.Wrap(err, "update main_thread")
	}
	return checkRowsAffected(res)
}

func (s *store) CreateWorkerTask(ctx context.Context, t *model.WorkerTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	row, err := newWorkerTaskRow(t)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO worker_tasks (id, main_thread_id, user_id, repo_url, base_branch,
			branch_name, description, prompt, task_type, skip_plan, status,
			issue_number, issue_url, issue_etag, pr_number, pr_url, pr_etag,
			plan_text, pending_questions, result, error, created_at, started_at,
			completed_at)
		VALUES (:id, :main_thread_id, :user_id, :repo_url, :base_branch,
			:branch_name, :description, :prompt, :task_type, :skip_plan, :status,
			:issue_number, :issue_url, :issue_etag, :pr_number, :pr_url, :pr_etag,
			:plan_text, :pending_questions, :result, :error, :created_at, :started_at,
			:completed_at)`, row)
	if err != nil {
		return errors.Wrap(err, "insert worker_task")
	}
	return nil
}

func (s *store) GetWorkerTask(ctx context.Context, id string) (*model.WorkerTask, error) {
	var row workerTaskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM worker_tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select worker_task")
	}
	return row.toModel()
}

func (s *store) ListWorkerTasksByMainThread(ctx context.Context, mainThreadID string) ([]*model.WorkerTask, error) {
	var rows []workerTaskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM worker_tasks WHERE main_thread_id = $1 ORDER BY created_at`, mainThreadID); err != nil {
		return nil, errors.Wrap(err, "select worker_tasks")
	}
	out := make([]*model.WorkerTask, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *store) UpdateWorkerTask(ctx context.Context, t *model.WorkerTask) error {
	row, err := newWorkerTaskRow(t)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE worker_tasks SET status = :status, branch_name = :branch_name,
			issue_number = :issue_number, issue_url = :issue_url, issue_etag = :issue_etag,
			pr_number = :pr_number, pr_url = :pr_url, pr_etag = :pr_etag,
			plan_text = :plan_text, pending_questions = :pending_questions,
			result = :result, error = :error, started_at = :started_at,
			completed_at = :completed_at
		WHERE id = :id`, row)
	if err != nil {
		return errors.Wrap(err, "update worker_task")
	}
	return checkRowsAffected(res)
}

func (s *store) UpdateWorkerTaskStatus(ctx context.Context, id string, fromStatus, toStatus model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worker_tasks SET status = $3 WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus)
	if err != nil {
		return errors.Wrap(err, "update worker_task status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return storage.ErrConditionFailed
	}
	return nil
}

func (s *store) CreateQueueItem(ctx context.Context, qi *model.QueueItem) error {
	if qi.ID == "" {
		qi.ID = uuid.NewString()
	}
	ctxJSON, err := json.Marshal(qi.Context)
	if err != nil {
		return errors.Wrap(err, "marshal context")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, main_thread_id, task_id, user_id, item_type,
			priority, title, content, context, options, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		qi.ID, qi.MainThreadID, qi.TaskID, qi.UserID, qi.ItemType, qi.Priority,
		qi.Title, qi.Content, ctxJSON, jsonStrings(qi.Options), qi.Status,
		qi.CreatedAt, qi.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "insert queue_item")
	}
	return nil
}

func (s *store) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	var row queueItemRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM queue_items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select queue_item")
	}
	return row.toModel()
}

func (s *store) ListPendingQueueItems(ctx context.Context, userID string) ([]*model.QueueItem, error) {
	var rows []queueItemRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM queue_items WHERE user_id = $1 AND status = $2
		ORDER BY created_at`, userID, model.QueueItemPending); err != nil {
		return nil, errors.Wrap(err, "select queue_items")
	}
	out := make([]*model.QueueItem, 0, len(rows))
	for _, r := range rows {
		qi, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, qi)
	}
	return out, nil
}

func (s *store) RespondToQueueItem(ctx context.Context, id, response, respondedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET response = $2, status = $3, responded_at = now()
		WHERE id = $1 AND status = $4`,
		id, response, model.QueueItemResponded, model.QueueItemPending)
	if err != nil {
		return errors.Wrap(err, "respond to queue_item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return storage.ErrConditionFailed
	}
	_ = respondedBy
	return nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
