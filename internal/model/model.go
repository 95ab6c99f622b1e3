// Package model defines the durable entities mainloopd persists and the
// typed topic envelopes workflows exchange. Every entity below corresponds
// to a row the Storage contract (internal/storage) reads and writes; every
// envelope corresponds to one row of the topic registry workflows use to
// talk to each other through internal/durable.
package model

import "time"

// TaskStatus enumerates the states of the worker-task state machine.
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "pending"
	TaskStatusPlanning           TaskStatus = "planning"
	TaskStatusWaitingQuestions   TaskStatus = "waiting_questions"
	TaskStatusWaitingPlanReview  TaskStatus = "waiting_plan_review"
	TaskStatusReadyToImplement   TaskStatus = "ready_to_implement"
	TaskStatusImplementing       TaskStatus = "implementing"
	TaskStatusUnderReview        TaskStatus = "under_review"
	TaskStatusCompleted          TaskStatus = "completed"
	TaskStatusFailed             TaskStatus = "failed"
	TaskStatusCancelled          TaskStatus = "cancelled"
)

// Terminal reports whether s is one of the three states from which a
// WorkerTask may never transition again (§3 invariant 1 / §8 invariant 1).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskType enumerates the kind of work a WorkerTask performs; it feeds the
// branch-name prefix derivation in internal/branchname.
type TaskType string

const (
	TaskTypeFeature TaskType = "feature"
	TaskTypeBugfix  TaskType = "bugfix"
	TaskTypeRefactor TaskType = "refactor"
	TaskTypeDocs    TaskType = "docs"
	TaskTypeTest    TaskType = "test"
	TaskTypeChore   TaskType = "chore"
)

// MainThreadStatus enumerates the lifecycle states of a MainThread record.
type MainThreadStatus string

const (
	MainThreadActive MainThreadStatus = "active"
	MainThreadPaused MainThreadStatus = "paused"
	MainThreadError  MainThreadStatus = "error"
)

// QueueItemType enumerates the kinds of inbox entries the main-thread
// workflow materializes.
type QueueItemType string

const (
	QueueItemQuestion           QueueItemType = "question"
	QueueItemApproval           QueueItemType = "approval"
	QueueItemReview             QueueItemType = "review"
	QueueItemError              QueueItemType = "error"
	QueueItemNotification       QueueItemType = "notification"
	QueueItemPlanReady          QueueItemType = "plan_ready"
	QueueItemCodeReady          QueueItemType = "code_ready"
	QueueItemFeedbackAddressed  QueueItemType = "feedback_addressed"
	QueueItemRoutingSuggestion  QueueItemType = "routing_suggestion"
)

// QueueItemPriority ranks inbox entries for client-side sorting/alerting.
type QueueItemPriority string

const (
	PriorityUrgent QueueItemPriority = "urgent"
	PriorityHigh   QueueItemPriority = "high"
	PriorityNormal QueueItemPriority = "normal"
	PriorityLow    QueueItemPriority = "low"
)

// QueueItemStatus tracks whether an inbox entry still awaits a human.
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "pending"
	QueueItemResponded QueueItemStatus = "responded"
	QueueItemExpired   QueueItemStatus = "expired"
	QueueItemCancelled QueueItemStatus = "cancelled"
)

// MainThread is the one-per-user long-lived orchestration record (§3).
type MainThread struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	WorkflowRunID  string         `json:"workflow_run_id" db:"workflow_run_id"`
	Status         MainThreadStatus `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at" db:"last_activity_at"`
	ActiveTaskIDs  []string       `json:"active_task_ids" db:"active_task_ids"`
	Context        map[string]any `json:"context" db:"context"`
}

// TaskQuestion is one clarifying question surfaced by the planning phase
// (§3, §4.3.3 sub-phase 3).
type TaskQuestion struct {
	ID          string             `json:"id"`
	Header      string             `json:"header"`
	Question    string             `json:"question"`
	Options     []TaskQuestionOption `json:"options"`
	MultiSelect bool               `json:"multi_select"`
	Response    *string            `json:"response,omitempty"`
}

// TaskQuestionOption is one selectable answer to a TaskQuestion.
type TaskQuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// WorkerTask is the per-unit-of-work record driven by the worker workflow
// (§3). Field-level invariants are enforced by the worker workflow, the sole
// writer.
type WorkerTask struct {
	ID              string          `json:"id" db:"id"`
	MainThreadID    string          `json:"main_thread_id" db:"main_thread_id"`
	UserID          string          `json:"user_id" db:"user_id"`
	RepoURL         string          `json:"repo_url" db:"repo_url"`
	BaseBranch      string          `json:"base_branch" db:"base_branch"`
	BranchName      string          `json:"branch_name" db:"branch_name"`
	Description     string          `json:"description" db:"description"`
	Prompt          string          `json:"prompt" db:"prompt"`
	TaskType        TaskType        `json:"task_type" db:"task_type"`
	SkipPlan        bool            `json:"skip_plan" db:"skip_plan"`
	Status          TaskStatus      `json:"status" db:"status"`
	IssueNumber     *int            `json:"issue_number,omitempty" db:"issue_number"`
	IssueURL        string          `json:"issue_url,omitempty" db:"issue_url"`
	IssueETag       string          `json:"issue_etag,omitempty" db:"issue_etag"`
	PRNumber        *int            `json:"pr_number,omitempty" db:"pr_number"`
	PRURL           string          `json:"pr_url,omitempty" db:"pr_url"`
	PRETag          string          `json:"pr_etag,omitempty" db:"pr_etag"`
	PlanText        string          `json:"plan_text,omitempty" db:"plan_text"`
	PendingQuestions []TaskQuestion `json:"pending_questions,omitempty" db:"pending_questions"`
	Result          map[string]any  `json:"result,omitempty" db:"result"`
	Error           string          `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// QueueItem is one inbox entry surfaced to the user (§3).
type QueueItem struct {
	ID           string            `json:"id" db:"id"`
	MainThreadID string            `json:"main_thread_id" db:"main_thread_id"`
	TaskID       string            `json:"task_id,omitempty" db:"task_id"`
	UserID       string            `json:"user_id" db:"user_id"`
	ItemType     QueueItemType     `json:"item_type" db:"item_type"`
	Priority     QueueItemPriority `json:"priority" db:"priority"`
	Title        string            `json:"title" db:"title"`
	Content      string            `json:"content" db:"content"`
	Context      map[string]any    `json:"context" db:"context"`
	Options      []string          `json:"options,omitempty" db:"options"`
	Status       QueueItemStatus   `json:"status" db:"status"`
	Response     string            `json:"response,omitempty" db:"response"`
	RespondedAt  *time.Time        `json:"responded_at,omitempty" db:"responded_at"`
	ReadAt       *time.Time        `json:"read_at,omitempty" db:"read_at"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
}
