package worker_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/durable/inmem"
	"github.com/mainloopdev/mainloopd/internal/forge"
	forgefake "github.com/mainloopdev/mainloopd/internal/forge/fake"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/sandbox"
	sandboxfake "github.com/mainloopdev/mainloopd/internal/sandbox/fake"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/storage/memory"
	"github.com/mainloopdev/mainloopd/internal/workflow/worker"
)

// testConfig shrinks every timing constant in worker.DefaultConfig down to
// durations a test can afford to actually wait out, without changing any of
// the state-machine semantics under test.
func testConfig() worker.Config {
	return worker.Config{
		MaxJobRetries:         2,
		JobRetryBackoff:       []time.Duration{time.Millisecond},
		MaxCIIterations:       3,
		PRPollInterval:        5 * time.Millisecond,
		JobResultTimeout:      2 * time.Second,
		UserWaitTimeout:       2 * time.Second,
		DualPollInitial:       5 * time.Millisecond,
		DualPollMultiplier:    1.2,
		DualPollMax:           20 * time.Millisecond,
		SandboxDestroyRetries: 1,
		AgentHandle:           "@mainloop",
		MaxReviewWallClock:    2 * time.Second,
	}
}

type harness struct {
	t       *testing.T
	engine  durable.Engine
	store   storage.Store
	forge   *forgefake.Forge
	sandbox *sandboxfake.Sandbox
	worker  *worker.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	fg := forgefake.New()
	sb := sandboxfake.New()
	eng := inmem.New(nil)

	w := worker.New(store, fg, sb, sb, nil, nil, nil)
	w.Config = testConfig()
	require.NoError(t, w.RegisterActivities(context.Background(), eng))

	return &harness{t: t, engine: eng, store: store, forge: fg, sandbox: sb, worker: w}
}

func (h *harness) newTask(repo string, skipPlan bool) *model.WorkerTask {
	task := &model.WorkerTask{
		MainThreadID: "mt-1",
		UserID:       "user-1",
		RepoURL:      repo,
		BaseBranch:   "main",
		Description:  "Add dark mode toggle",
		Prompt:       "Add dark mode toggle",
		TaskType:     model.TaskTypeFeature,
		SkipPlan:     skipPlan,
		Status:       model.TaskStatusPending,
		CreatedAt:    time.Now(),
	}
	require.NoError(h.t, h.store.CreateWorkerTask(context.Background(), task))
	return task
}

func (h *harness) start(taskID string) durable.WorkflowHandle {
	handle, err := h.engine.StartWorkflow(context.Background(), durable.WorkflowStartRequest{
		ID:       taskID,
		Workflow: worker.WorkflowName,
		Input:    worker.Input{TaskID: taskID},
	})
	require.NoError(h.t, err)
	return handle
}

// awaitLaunch polls the fake sandbox for the Nth Launch call (1-indexed) of
// mode, failing the test if it does not show up within a short deadline.
func (h *harness) awaitLaunch(mode sandbox.Mode, n int) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count := 0
		for _, c := range h.sandbox.Calls {
			if c.Mode == mode {
				count++
			}
		}
		if count >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for launch #%d of mode %q (saw %d calls)", n, mode, len(h.sandbox.Calls))
}

func (h *harness) sendJobResult(taskID string, env model.JobResultEnvelope) {
	require.NoError(h.t, h.engine.Send(context.Background(), taskID, model.TopicJobResult, env))
}

func (h *harness) awaitStatus(taskID string, want model.TaskStatus) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.store.GetWorkerTask(context.Background(), taskID)
		require.NoError(h.t, err)
		if got.Status == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := h.store.GetWorkerTask(context.Background(), taskID)
	h.t.Fatalf("timed out waiting for status %q (currently %q)", want, got.Status)
}

// TestHappyPathNoQuestions drives SPEC_FULL.md scenario S1: a plan with no
// clarifying questions, immediate approval, a clean implement job, and a
// first-poll-success CI/merge.
func TestHappyPathNoQuestions(t *testing.T) {
	h := newHarness(t)
	task := h.newTask("acme/widgets", false)
	h.start(task.ID)

	h.awaitLaunch(sandbox.ModePlan, 1)
	h.sendJobResult(task.ID, model.JobResultEnvelope{
		TaskID: task.ID, Mode: "plan", Success: true,
		Output: map[string]any{"plan_text": "Add a toggle component.", "questions": []any{}},
	})

	h.awaitStatus(task.ID, model.TaskStatusWaitingPlanReview)
	require.NoError(t, h.engine.Send(context.Background(), task.ID, model.TopicPlanResponse, model.PlanResponseEnvelope{
		TaskID: task.ID, Action: model.PlanResponseApprove,
	}))

	h.awaitStatus(task.ID, model.TaskStatusReadyToImplement)
	require.NoError(t, h.engine.Send(context.Background(), task.ID, model.TopicStartImplementation, model.StartImplementationEnvelope{TaskID: task.ID}))

	h.awaitLaunch(sandbox.ModeImplement, 1)

	got, err := h.store.GetWorkerTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IssueNumber)
	prURL := forgefake.PRURL("acme/widgets", 7)
	h.sendJobResult(task.ID, model.JobResultEnvelope{
		TaskID: task.ID, Mode: "implement", Success: true,
		Output: map[string]any{"pr_url": prURL},
	})

	h.forge.SetCheckStatus("acme/widgets", 7, forge.CheckStatus{Overall: forge.CheckSuccess})
	h.forge.SetPRStatus("acme/widgets", 7, forge.PRStatus{Number: 7, State: forge.PRStateMerged, Merged: true})

	h.awaitStatus(task.ID, model.TaskStatusCompleted)

	got, err = h.store.GetWorkerTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, "feature/"+strconv.Itoa(*got.IssueNumber)+"-add-dark-mode-toggle", got.BranchName)
	require.Equal(t, prURL, got.PRURL)
}

// TestCancelDuringPlanReview drives scenario S4: a cancel signal delivered
// while waiting_plan_review must close the issue with the standard comment
// and leave the task cancelled, with no further jobs launched.
func TestCancelDuringPlanReview(t *testing.T) {
	h := newHarness(t)
	task := h.newTask("acme/widgets", false)
	h.start(task.ID)

	h.awaitLaunch(sandbox.ModePlan, 1)
	h.sendJobResult(task.ID, model.JobResultEnvelope{
		TaskID: task.ID, Mode: "plan", Success: true,
		Output: map[string]any{"plan_text": "Plan.", "questions": []any{}},
	})

	h.awaitStatus(task.ID, model.TaskStatusWaitingPlanReview)
	require.NoError(t, h.engine.Send(context.Background(), task.ID, model.TopicPlanResponse, model.PlanResponseEnvelope{
		TaskID: task.ID, Action: model.PlanResponseCancel,
	}))

	h.awaitStatus(task.ID, model.TaskStatusCancelled)

	got, err := h.store.GetWorkerTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IssueNumber)
	require.Equal(t, forge.IssueClosed, h.forge.IssueState("acme/widgets", *got.IssueNumber))

	comments := h.forge.IssueComments("acme/widgets", *got.IssueNumber)
	require.NotEmpty(t, comments)
	require.Contains(t, comments[len(comments)-1].Body, "cancelled by user")

	for _, c := range h.sandbox.Calls {
		require.NotEqual(t, sandbox.ModeImplement, c.Mode)
	}
}

// TestChangesRequestedReviewTriggersFeedback drives §4.3.6 expansion item 4:
// a CHANGES_REQUESTED review with no PR comment at all must still be
// treated as actionable feedback and drive one feedback job before the
// task reaches under_review again.
func TestChangesRequestedReviewTriggersFeedback(t *testing.T) {
	h := newHarness(t)
	task := h.newTask("acme/widgets", true)
	h.start(task.ID)

	h.awaitLaunch(sandbox.ModeImplement, 1)
	prURL := forgefake.PRURL("acme/widgets", 11)
	h.forge.SetCheckStatus("acme/widgets", 11, forge.CheckStatus{Overall: forge.CheckSuccess})
	h.forge.SetPRStatus("acme/widgets", 11, forge.PRStatus{Number: 11, State: forge.PRStateOpen})
	h.forge.AddPRReview("acme/widgets", 11, "reviewer", forge.ReviewChangesRequested, "", time.Now())
	h.sendJobResult(task.ID, model.JobResultEnvelope{
		TaskID: task.ID, Mode: "implement", Success: true,
		Output: map[string]any{"pr_url": prURL},
	})

	h.awaitLaunch(sandbox.ModeFeedback, 1)
	h.sendJobResult(task.ID, model.JobResultEnvelope{TaskID: task.ID, Mode: "feedback", Success: true})

	h.awaitStatus(task.ID, model.TaskStatusUnderReview)

	feedbacks := 0
	for _, c := range h.sandbox.Calls {
		if c.Mode == sandbox.ModeFeedback {
			feedbacks++
		}
	}
	require.Equal(t, 1, feedbacks)
}

// TestInlineCommentIsAlwaysActionable drives §4.3.6 step 3: an inline
// diff-line review comment triggers a feedback job even though its body
// neither mentions the agent handle nor carries a /revise command.
func TestInlineCommentIsAlwaysActionable(t *testing.T) {
	h := newHarness(t)
	task := h.newTask("acme/widgets", true)
	h.start(task.ID)

	h.awaitLaunch(sandbox.ModeImplement, 1)
	prURL := forgefake.PRURL("acme/widgets", 13)
	h.forge.SetCheckStatus("acme/widgets", 13, forge.CheckStatus{Overall: forge.CheckSuccess})
	h.forge.SetPRStatus("acme/widgets", 13, forge.PRStatus{Number: 13, State: forge.PRStateOpen})
	h.forge.AddPRInlineComment("acme/widgets", 13, "this line looks off", time.Now())
	h.sendJobResult(task.ID, model.JobResultEnvelope{
		TaskID: task.ID, Mode: "implement", Success: true,
		Output: map[string]any{"pr_url": prURL},
	})

	h.awaitLaunch(sandbox.ModeFeedback, 1)
	h.sendJobResult(task.ID, model.JobResultEnvelope{TaskID: task.ID, Mode: "feedback", Success: true})

	h.awaitStatus(task.ID, model.TaskStatusUnderReview)
}

// TestCIFixLoop drives scenario S3: a first failing check triggers exactly
// one fix job, and the second poll's success moves the task into review
// without ever failing.
func TestCIFixLoop(t *testing.T) {
	h := newHarness(t)
	task := h.newTask("acme/widgets", true) // skip_plan: straight to implementing
	h.start(task.ID)

	h.awaitLaunch(sandbox.ModeImplement, 1)
	prURL := forgefake.PRURL("acme/widgets", 9)
	h.forge.SetCheckStatus("acme/widgets", 9, forge.CheckStatus{Overall: forge.CheckFailure})
	h.forge.SetCheckFailureLogs("acme/widgets", 9, "LINT: missing semicolon")
	h.sendJobResult(task.ID, model.JobResultEnvelope{
		TaskID: task.ID, Mode: "implement", Success: true,
		Output: map[string]any{"pr_url": prURL},
	})

	h.awaitLaunch(sandbox.ModeFix, 1)
	h.forge.SetCheckStatus("acme/widgets", 9, forge.CheckStatus{Overall: forge.CheckSuccess})
	h.forge.SetPRStatus("acme/widgets", 9, forge.PRStatus{Number: 9, State: forge.PRStateOpen})
	h.sendJobResult(task.ID, model.JobResultEnvelope{TaskID: task.ID, Mode: "fix", Success: true})

	h.awaitStatus(task.ID, model.TaskStatusUnderReview)

	fixes := 0
	for _, c := range h.sandbox.Calls {
		if c.Mode == sandbox.ModeFix {
			fixes++
		}
	}
	require.Equal(t, 1, fixes)
}
