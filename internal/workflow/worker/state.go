package worker

import (
	"fmt"
	"time"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/sandbox"
)

// Workflow is the durable.WorkflowFunc driving a single WorkerTask through
// the state machine in SPEC_FULL.md §4.3. Its durable workflow id is the
// task's own id; every Send/Recv the task participates in targets that id.
func (w *Worker) Workflow(wc durable.WorkflowContext, input any) (result any, err error) {
	in := input.(Input)

	var t *model.WorkerTask
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepLoadTask, Input: loadTaskInput{TaskID: in.TaskID}}, &t); e != nil {
		return nil, e
	}

	mainThreadWFID := queue.MainThreadWorkflowID(t.UserID)

	// §8 invariant/idempotence: re-entering a terminal task is a no-op.
	if t.Status.Terminal() {
		return Output{Status: t.Status, PRURL: t.PRURL, Error: t.Error}, nil
	}

	// §4.3.2 resume: a task that already has a PR jumps straight to
	// code-review, watermarked at its creation time.
	if t.PRNumber != nil {
		return w.runCodeReview(wc, t, mainThreadWFID, t.CreatedAt, wc.Now())
	}

	var sbox sandbox.Handle
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepProvisionSandbox, Input: sandbox.ProvisionRequest{
		TaskID: t.ID, RepoURL: t.RepoURL, BaseBranch: t.BaseBranch, BranchName: t.BranchName,
	}}, &sbox); e != nil {
		return w.fail(wc, t, mainThreadWFID, e)
	}

	defer func() {
		w.cleanupSandbox(wc, t, sbox)
	}()

	if t.SkipPlan {
		return w.runImplementation(wc, t, mainThreadWFID, sbox)
	}
	return w.runPlanning(wc, t, mainThreadWFID, sbox)
}

// transition moves t to status, persists it, and publishes a bus event —
// the one place every phase routes its status changes through, so no call
// site can forget to save or notify.
func (w *Worker) transition(wc durable.WorkflowContext, t *model.WorkerTask, status model.TaskStatus) error {
	t.Status = status
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepSaveTask, Input: t}, nil); e != nil {
		return e
	}
	_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepPublishEvent, Input: newTaskEvent(t.UserID, t.ID, "status", string(status))}, nil)
	return nil
}

// fail marks t failed with err's message, notifies the main thread, and
// returns the terminal Output (§7 permanent failure / timeout handling).
func (w *Worker) fail(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string, cause error) (any, error) {
	t.Error = cause.Error()
	now := wc.Now()
	t.CompletedAt = &now
	if e := w.transition(wc, t, model.TaskStatusFailed); e != nil {
		return nil, e
	}
	w.notifyMainThread(wc, t, mainThreadWFID, model.TaskStatusFailed, t.Error)
	return Output{Status: model.TaskStatusFailed, Error: t.Error}, nil
}

// cancel closes the forge issue, if one exists, with the standard comment,
// marks t cancelled, and notifies the main thread (§5 cancellation, S4). It
// does not close a PR.
func (w *Worker) cancel(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string) (any, error) {
	if t.IssueNumber != nil {
		closed := forge.IssueClosed
		_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepUpdateIssue, Input: updateIssueInput{
			Repo: t.RepoURL, Number: *t.IssueNumber, Update: forge.IssueUpdate{State: &closed},
		}}, nil)
		_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepAddIssueComment, Input: addIssueCommentInput{
			Repo: t.RepoURL, Number: *t.IssueNumber, Body: formatCancelComment(),
		}}, nil)
	}
	now := wc.Now()
	t.CompletedAt = &now
	if e := w.transition(wc, t, model.TaskStatusCancelled); e != nil {
		return nil, e
	}
	w.notifyMainThread(wc, t, mainThreadWFID, model.TaskStatusCancelled, "")
	return Output{Status: model.TaskStatusCancelled}, nil
}

func (w *Worker) notifyMainThread(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string, status model.TaskStatus, errMsg string) {
	env := model.WorkerResultEnvelope{TaskID: t.ID, Status: status, PRURL: t.PRURL, Result: t.Result, Error: errMsg}
	_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepSendWorkerResult, Input: sendWorkerResultInput{
		MainThreadWorkflowID: mainThreadWFID, Envelope: env,
	}}, nil)
}

// cleanupSandbox is the finally-equivalent teardown of §4.3.7: up to
// SandboxDestroyRetries attempts with 2ⁿ-second backoff. Failures are
// logged, never surfaced as task-state changes.
func (w *Worker) cleanupSandbox(wc durable.WorkflowContext, t *model.WorkerTask, h sandbox.Handle) {
	attempts := w.Config.SandboxDestroyRetries
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepDestroySandbox, Input: h}, nil); e == nil {
			return
		} else {
			lastErr = e
		}
		_ = wc.Sleep(wc.Context(), time.Duration(1<<uint(i+1))*time.Second)
	}
	wc.Logger().Warn(wc.Context(), "worker: sandbox teardown failed after retries", "task_id", t.ID, "error", lastErr)
}

// nextIteration returns the next monotonically increasing iteration number
// for mode within this task, persisting the updated counter on t (the
// caller is responsible for saving t). This is the idempotency-key
// component §4.5/§9 require distinct per retry.
func nextIteration(t *model.WorkerTask, mode sandbox.Mode) int {
	if t.Result == nil {
		t.Result = make(map[string]any)
	}
	key := "iter_" + string(mode)
	n := 0
	if v, ok := t.Result[key]; ok {
		switch x := v.(type) {
		case int:
			n = x
		case float64:
			n = int(x)
		}
	}
	t.Result[key] = n + 1
	return n
}

// runJobWithRetry launches mode's executor job and waits for its terminal
// job_result, retrying up to MaxJobRetries times with exponential backoff
// on transient failure/timeout (§4.3.3 step 2b, §7 transient executor-job
// failure). It returns the successful JobResultEnvelope, or an error once
// retries are exhausted (permanent job failure).
func (w *Worker) runJobWithRetry(wc durable.WorkflowContext, t *model.WorkerTask, mode sandbox.Mode, sbox sandbox.Handle, prompt, feedbackContext string) (model.JobResultEnvelope, error) {
	maxRetries := w.Config.MaxJobRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	var lastErr string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		iter := nextIteration(t, mode)
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepSaveTask, Input: t}, nil); e != nil {
			return model.JobResultEnvelope{}, e
		}

		var issueNum, prNum int
		if t.IssueNumber != nil {
			issueNum = *t.IssueNumber
		}
		if t.PRNumber != nil {
			prNum = *t.PRNumber
		}

		var jh sandbox.JobHandle
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepLaunchJob, Input: sandbox.LaunchRequest{
			Sandbox: sbox, TaskID: t.ID, Mode: mode, Iteration: iter, Prompt: prompt,
			CallbackURL:     callbackURL(t.ID),
			RepoURL:         t.RepoURL,
			IssueNumber:     issueNum,
			PRNumber:        prNum,
			BranchName:      t.BranchName,
			FeedbackContext: feedbackContext,
		}}, &jh); e != nil {
			return model.JobResultEnvelope{}, e
		}

		env, ok, e := w.waitJobResult(wc, w.Config.JobResultTimeout)
		if e != nil {
			return model.JobResultEnvelope{}, e
		}
		switch {
		case ok && env.Success:
			return env, nil
		case ok:
			lastErr = env.Error
		default:
			lastErr = "job result timeout after " + w.Config.JobResultTimeout.String()
		}

		if attempt < len(w.Config.JobRetryBackoff) {
			if e := wc.Sleep(wc.Context(), w.Config.JobRetryBackoff[attempt]); e != nil {
				return model.JobResultEnvelope{}, e
			}
		}
	}
	return model.JobResultEnvelope{}, fmt.Errorf("%s job failed after %d attempts: %s", mode, maxRetries+1, lastErr)
}

func (w *Worker) waitJobResult(wc durable.WorkflowContext, timeout time.Duration) (model.JobResultEnvelope, bool, error) {
	var env model.JobResultEnvelope
	ok, err := wc.Recv(wc.Context(), model.TopicJobResult, timeout, &env)
	return env, ok, err
}

// callbackURL is the executor-job callback path (§6), relative to the
// server that serves it; nothing in this module prefixes it with an
// externally reachable base. Kept here as a pure function of
// TaskID so tests can assert on it without standing up an HTTP listener.
func callbackURL(taskID string) string {
	return fmt.Sprintf("/internal/tasks/%s/complete", taskID)
}
