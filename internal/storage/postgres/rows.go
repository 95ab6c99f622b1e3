package postgres

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/mainloopdev/mainloopd/internal/model"
)

// jsonStrings encodes a []string as JSON for storage in a jsonb column.
// Marshaling a []string can never fail, so the error is discarded.
func jsonStrings(v []string) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeJSONStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode string array")
	}
	return out, nil
}

func decodeJSONMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode json map")
	}
	return out, nil
}

// mainThreadRow mirrors main_threads' column layout for sqlx scanning.
type mainThreadRow struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	WorkflowRunID  string    `db:"workflow_run_id"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
	ActiveTaskIDs  []byte    `db:"active_task_ids"`
	Context        []byte    `db:"context"`
}

func (r mainThreadRow) toModel() (*model.MainThread, error) {
	ids, err := decodeJSONStrings(r.ActiveTaskIDs)
	if err != nil {
		return nil, err
	}
	ctxMap, err := decodeJSONMap(r.Context)
	if err != nil {
		return nil, err
	}
	return &model.MainThread{
		ID:             r.ID,
		UserID:         r.UserID,
		WorkflowRunID:  r.WorkflowRunID,
		Status:         model.MainThreadStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
		ActiveTaskIDs:  ids,
		Context:        ctxMap,
	}, nil
}

// workerTaskRow mirrors worker_tasks' column layout for sqlx scanning,
// including NamedExec-friendly `db` tags for the named-parameter writes in
// CreateWorkerTask/UpdateWorkerTask.
type workerTaskRow struct {
	ID               string         `db:"id"`
	MainThreadID     string         `db:"main_thread_id"`
	UserID           string         `db:"user_id"`
	RepoURL          string         `db:"repo_url"`
	BaseBranch       string         `db:"base_branch"`
	BranchName       string         `db:"branch_name"`
	Description      string         `db:"description"`
	Prompt           string         `db:"prompt"`
	TaskType         string         `db:"task_type"`
	SkipPlan         bool           `db:"skip_plan"`
	Status           string         `db:"status"`
	IssueNumber      *int           `db:"issue_number"`
	IssueURL         string         `db:"issue_url"`
	IssueETag        string         `db:"issue_etag"`
	PRNumber         *int           `db:"pr_number"`
	PRURL            string         `db:"pr_url"`
	PRETag           string         `db:"pr_etag"`
	PlanText         string         `db:"plan_text"`
	PendingQuestions []byte         `db:"pending_questions"`
	Result           []byte         `db:"result"`
	Error            string         `db:"error"`
	CreatedAt        time.Time      `db:"created_at"`
	StartedAt        *time.Time     `db:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
}

func newWorkerTaskRow(t *model.WorkerTask) (workerTaskRow, error) {
	questions, err := json.Marshal(t.PendingQuestions)
	if err != nil {
		return workerTaskRow{}, errors.Wrap(err, "marshal pending questions")
	}
	result, err := json.Marshal(t.Result)
	if err != nil {
		return workerTaskRow{}, errors.Wrap(err, "marshal result")
	}
	return workerTaskRow{
		ID:               t.ID,
		MainThreadID:     t.MainThreadID,
		UserID:           t.UserID,
		RepoURL:          t.RepoURL,
		BaseBranch:       t.BaseBranch,
		BranchName:       t.BranchName,
		Description:      t.Description,
		Prompt:           t.Prompt,
		TaskType:         string(t.TaskType),
		SkipPlan:         t.SkipPlan,
		Status:           string(t.Status),
		IssueNumber:      t.IssueNumber,
		IssueURL:         t.IssueURL,
		IssueETag:        t.IssueETag,
		PRNumber:         t.PRNumber,
		PRURL:            t.PRURL,
		PRETag:           t.PRETag,
		PlanText:         t.PlanText,
		PendingQuestions: questions,
		Result:           result,
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
	}, nil
}

func (r workerTaskRow) toModel() (*model.WorkerTask, error) {
	var questions []model.TaskQuestion
	if len(r.PendingQuestions) > 0 {
		if err := json.Unmarshal(r.PendingQuestions, &questions); err != nil {
			return nil, errors.Wrap(err, "decode pending questions")
		}
	}
	result, err := decodeJSONMap(r.Result)
	if err != nil {
		return nil, err
	}
	return &model.WorkerTask{
		ID:               r.ID,
		MainThreadID:     r.MainThreadID,
		UserID:           r.UserID,
		RepoURL:          r.RepoURL,
		BaseBranch:       r.BaseBranch,
		BranchName:       r.BranchName,
		Description:      r.Description,
		Prompt:           r.Prompt,
		TaskType:         model.TaskType(r.TaskType),
		SkipPlan:         r.SkipPlan,
		Status:           model.TaskStatus(r.Status),
		IssueNumber:      r.IssueNumber,
		IssueURL:         r.IssueURL,
		IssueETag:        r.IssueETag,
		PRNumber:         r.PRNumber,
		PRURL:            r.PRURL,
		PRETag:           r.PRETag,
		PlanText:         r.PlanText,
		PendingQuestions: questions,
		Result:           result,
		Error:            r.Error,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}, nil
}

// queueItemRow mirrors queue_items' column layout for sqlx scanning.
type queueItemRow struct {
	ID           string     `db:"id"`
	MainThreadID string     `db:"main_thread_id"`
	TaskID       string     `db:"task_id"`
	UserID       string     `db:"user_id"`
	ItemType     string     `db:"item_type"`
	Priority     string     `db:"priority"`
	Title        string     `db:"title"`
	Content      string     `db:"content"`
	Context      []byte     `db:"context"`
	Options      []byte     `db:"options"`
	Status       string     `db:"status"`
	Response     string     `db:"response"`
	RespondedAt  *time.Time `db:"responded_at"`
	ReadAt       *time.Time `db:"read_at"`
	CreatedAt    time.Time  `db:"created_at"`
	ExpiresAt    *time.Time `db:"expires_at"`
}

func (r queueItemRow) toModel() (*model.QueueItem, error) {
	ctxMap, err := decodeJSONMap(r.Context)
	if err != nil {
		return nil, err
	}
	opts, err := decodeJSONStrings(r.Options)
	if err != nil {
		return nil, err
	}
	return &model.QueueItem{
		ID:           r.ID,
		MainThreadID: r.MainThreadID,
		TaskID:       r.TaskID,
		UserID:       r.UserID,
		ItemType:     model.QueueItemType(r.ItemType),
		Priority:     model.QueueItemPriority(r.Priority),
		Title:        r.Title,
		Content:      r.Content,
		Context:      ctxMap,
		Options:      opts,
		Status:       model.QueueItemStatus(r.Status),
		Response:     r.Response,
		RespondedAt:  r.RespondedAt,
		ReadAt:       r.ReadAt,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}, nil
}
