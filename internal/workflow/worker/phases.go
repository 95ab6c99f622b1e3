package worker

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mainloopdev/mainloopd/internal/branchname"
	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/sandbox"
)

// runPlanning drives §4.3.3: issue creation, the plan-job loop (with its
// question and plan-review sub-phases), and the ready_to_implement gate.
func (w *Worker) runPlanning(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string, sbox sandbox.Handle) (any, error) {
	var iss forge.Issue
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepCreateIssue, Input: createIssueInput{
		Repo: t.RepoURL, Title: issueTitle(t), Body: buildIssueBody(t), Labels: []string{string(t.TaskType)},
	}}, &iss); e != nil {
		return w.fail(wc, t, mainThreadWFID, e)
	}
	t.IssueNumber = &iss.Number
	t.IssueURL = iss.URL
	t.IssueETag = iss.ETag
	if e := w.transition(wc, t, model.TaskStatusPlanning); e != nil {
		return nil, e
	}

	feedback := ""
	for {
		env, e := w.runJobWithRetry(wc, t, sandbox.ModePlan, sbox, t.Prompt, feedback)
		if e != nil {
			return w.fail(wc, t, mainThreadWFID, e)
		}
		planText, _ := env.Output["plan_text"].(string)
		questions := decodeQuestions(env.Output["questions"])
		t.PlanText = planText

		if len(questions) > 0 {
			out, cancelled, e := w.runQuestionSubPhase(wc, t, mainThreadWFID, questions)
			if e != nil {
				return nil, e
			}
			if cancelled {
				return out, nil
			}
			feedback = formatAnswersAsFeedback(questions)
			continue
		}

		approved, revision, cancelled, e := w.runPlanReviewSubPhase(wc, t, mainThreadWFID)
		if e != nil {
			return nil, e
		}
		if cancelled {
			return w.cancel(wc, t, mainThreadWFID)
		}
		if !approved {
			feedback = revision
			continue
		}
		break
	}

	t.BranchName = branchname.Derive(t.IssueNumber, issueTitle(t), t.TaskType)
	if e := w.transition(wc, t, model.TaskStatusReadyToImplement); e != nil {
		return nil, e
	}

	var start model.StartImplementationEnvelope
	ok, e := wc.Recv(wc.Context(), model.TopicStartImplementation, w.Config.UserWaitTimeout, &start)
	if e != nil {
		return nil, e
	}
	if !ok {
		return w.fail(wc, t, mainThreadWFID, errTimeout("ready_to_implement"))
	}

	return w.runImplementation(wc, t, mainThreadWFID, sbox)
}

// runQuestionSubPhase implements §4.3.3 sub-phase 3.
func (w *Worker) runQuestionSubPhase(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string, questions []model.TaskQuestion) (out any, cancelled bool, err error) {
	t.PendingQuestions = questions
	if e := w.transition(wc, t, model.TaskStatusWaitingQuestions); e != nil {
		return nil, false, e
	}
	questionCommentID, e := addComment(wc, t, formatQuestions(questions))
	if e != nil {
		return nil, false, e
	}

	subPhaseStart := wc.Now()
	sig, res, e := dualPoll(wc, model.TopicQuestionResponse, w.Config, func(ctx context.Context) (model.QuestionResponseEnvelope, bool, error) {
		comments, e := getIssueComments(wc, t, subPhaseStart)
		if e != nil {
			return model.QuestionResponseEnvelope{}, false, e
		}
		for _, c := range comments {
			if c.ID == questionCommentID || strings.TrimSpace(c.Body) == "" {
				continue
			}
			return model.QuestionResponseEnvelope{
				TaskID: t.ID, Action: model.QuestionResponseAnswer,
				Answers: map[string]string{"comment": c.Body}, AnsweredAt: c.CreatedAt,
			}, true, nil
		}
		return model.QuestionResponseEnvelope{}, false, nil
	})
	if e != nil {
		return nil, false, e
	}
	if res == dualPollTimeout {
		o, e := w.fail(wc, t, mainThreadWFID, errTimeout("waiting_questions"))
		return o, false, e
	}
	if sig.Action == model.QuestionResponseCancel {
		o, e := w.cancel(wc, t, mainThreadWFID)
		return o, true, e
	}

	for i := range t.PendingQuestions {
		if a, ok := sig.Answers[t.PendingQuestions[i].ID]; ok {
			t.PendingQuestions[i].Response = &a
		}
	}
	mergeTaskRequirements(t, sig.Answers)
	t.PendingQuestions = nil
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepUpdateIssue, Input: updateIssueInput{
		Repo: t.RepoURL, Number: *t.IssueNumber, Update: forge.IssueUpdate{Body: strptr(buildIssueBody(t))},
	}}, nil); e != nil {
		return nil, false, e
	}
	if e := w.transition(wc, t, model.TaskStatusPlanning); e != nil {
		return nil, false, e
	}
	return nil, false, nil
}

// runPlanReviewSubPhase implements §4.3.3 sub-phase 4.
func (w *Worker) runPlanReviewSubPhase(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string) (approved bool, revision string, cancelled bool, err error) {
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepUpdateIssue, Input: updateIssueInput{
		Repo: t.RepoURL, Number: *t.IssueNumber, Update: forge.IssueUpdate{Body: strptr(buildIssueBody(t))},
	}}, nil); e != nil {
		return false, "", false, e
	}
	commentID, e := addComment(wc, t, formatPlanComment(t))
	if e != nil {
		return false, "", false, e
	}
	if e := w.transition(wc, t, model.TaskStatusWaitingPlanReview); e != nil {
		return false, "", false, e
	}

	subPhaseStart := wc.Now()
	sig, res, e := dualPoll(wc, model.TopicPlanResponse, w.Config, func(ctx context.Context) (model.PlanResponseEnvelope, bool, error) {
		comments, e := getIssueComments(wc, t, subPhaseStart)
		if e != nil {
			return model.PlanResponseEnvelope{}, false, e
		}
		for _, c := range comments {
			cmd := forge.ParseCommand(c.Body)
			switch cmd.Action {
			case forge.ActionApprove:
				return model.PlanResponseEnvelope{TaskID: t.ID, Action: model.PlanResponseApprove}, true, nil
			case forge.ActionRevise:
				return model.PlanResponseEnvelope{TaskID: t.ID, Action: model.PlanResponseRevise, Revision: cmd.Text}, true, nil
			}
		}
		var reactions []forge.Reaction
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetCommentReactions, Input: getCommentReactionsInput{
			Repo: t.RepoURL, CommentID: commentID,
		}}, &reactions); e != nil {
			return model.PlanResponseEnvelope{}, false, e
		}
		if forge.HasApprovalReaction(reactions) {
			return model.PlanResponseEnvelope{TaskID: t.ID, Action: model.PlanResponseApprove}, true, nil
		}
		return model.PlanResponseEnvelope{}, false, nil
	})
	if e != nil {
		return false, "", false, e
	}
	if res == dualPollTimeout {
		if _, e := w.fail(wc, t, mainThreadWFID, errTimeout("waiting_plan_review")); e != nil {
			return false, "", false, e
		}
		return false, "", false, errTimeout("waiting_plan_review")
	}
	switch sig.Action {
	case model.PlanResponseApprove:
		return true, "", false, nil
	case model.PlanResponseRevise:
		return false, sig.Revision, false, nil
	default:
		return false, "", true, nil
	}
}

// runImplementation implements §4.3.4: the implement job, PR extraction,
// and the bounded CI verification loop.
func (w *Worker) runImplementation(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string, sbox sandbox.Handle) (any, error) {
	if e := w.transition(wc, t, model.TaskStatusImplementing); e != nil {
		return nil, e
	}

	env, e := w.runJobWithRetry(wc, t, sandbox.ModeImplement, sbox, t.Prompt, "")
	if e != nil {
		return w.fail(wc, t, mainThreadWFID, e)
	}
	prURL, _ := env.Output["pr_url"].(string)
	ref, e := parsePRURL(prURL)
	if e != nil {
		return w.fail(wc, t, mainThreadWFID, e)
	}
	t.PRNumber = &ref.Number
	t.PRURL = prURL
	if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepSaveTask, Input: t}, nil); e != nil {
		return nil, e
	}
	w.notifyMainThread(wc, t, mainThreadWFID, model.TaskStatusImplementing, "")
	_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepPublishEvent, Input: newTaskEvent(t.UserID, t.ID, "code_ready", string(t.Status))}, nil)

	maxIter := w.Config.MaxCIIterations
	if maxIter <= 0 {
		maxIter = 5
	}
	for i := 0; i < maxIter; i++ {
		if e := wc.Sleep(wc.Context(), w.Config.PRPollInterval); e != nil {
			return nil, e
		}
		var checks forge.CheckStatus
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetCheckStatus, Input: repoNumberInput{Repo: t.RepoURL, Number: *t.PRNumber}}, &checks); e != nil {
			return nil, e
		}
		switch checks.Overall {
		case forge.CheckSuccess:
			return w.runCodeReview(wc, t, mainThreadWFID, t.CreatedAt, wc.Now())
		case forge.CheckPending:
			continue
		case forge.CheckFailure:
			var logs string
			if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetCheckFailureLogs, Input: repoNumberInput{Repo: t.RepoURL, Number: *t.PRNumber}}, &logs); e != nil {
				return nil, e
			}
			if _, e := w.runJobWithRetry(wc, t, sandbox.ModeFix, sbox, t.Prompt, formatCIFailureContext(logs)); e != nil {
				return w.fail(wc, t, mainThreadWFID, e)
			}
		}
	}
	return w.fail(wc, t, mainThreadWFID, errCIExhausted(maxIter))
}

// runCodeReview implements §4.3.6. reviewStartedAt anchors the
// MAX_REVIEW_WALLCLOCK bound (§9): it is fixed at first entry into
// under_review and does not reset across feedback sub-loops, so a task
// bouncing between under_review and implementing on repeated feedback still
// fails once the total time in review exceeds the bound.
func (w *Worker) runCodeReview(wc durable.WorkflowContext, t *model.WorkerTask, mainThreadWFID string, lastCheck, reviewStartedAt time.Time) (any, error) {
	if e := w.transition(wc, t, model.TaskStatusUnderReview); e != nil {
		return nil, e
	}
	maxWallClock := w.Config.MaxReviewWallClock
	if maxWallClock <= 0 {
		maxWallClock = 72 * time.Hour
	}

	for {
		if wc.Now().Sub(reviewStartedAt) > maxWallClock {
			return w.fail(wc, t, mainThreadWFID, errTimeout("under_review"))
		}
		if e := wc.Sleep(wc.Context(), w.Config.PRPollInterval); e != nil {
			return nil, e
		}
		var pr forge.PRStatus
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetPRStatus, Input: repoNumberInput{Repo: t.RepoURL, Number: *t.PRNumber}}, &pr); e != nil {
			return nil, e
		}
		if pr.NotFound {
			wc.Logger().Warn(wc.Context(), "worker: pr not found, exiting code review", "task_id", t.ID)
			return Output{Status: t.Status}, nil
		}
		if pr.Merged {
			now := wc.Now()
			t.CompletedAt = &now
			if e := w.transition(wc, t, model.TaskStatusCompleted); e != nil {
				return nil, e
			}
			w.notifyMainThread(wc, t, mainThreadWFID, model.TaskStatusCompleted, "")
			return Output{Status: model.TaskStatusCompleted, PRURL: t.PRURL}, nil
		}
		if pr.State == forge.PRStateClosed {
			now := wc.Now()
			t.CompletedAt = &now
			if e := w.transition(wc, t, model.TaskStatusCancelled); e != nil {
				return nil, e
			}
			w.notifyMainThread(wc, t, mainThreadWFID, model.TaskStatusCancelled, "")
			return Output{Status: model.TaskStatusCancelled}, nil
		}

		var comments []forge.Comment
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetPRComments, Input: getPRCommentsInput{
			Repo: t.RepoURL, Number: *t.PRNumber, Since: lastCheck,
		}}, &comments); e != nil {
			return nil, e
		}

		var feedback []string
		for _, c := range comments {
			if !forge.IsActionableFeedback(c.Body, w.Config.AgentHandle, c.IsInline) {
				continue
			}
			feedback = append(feedback, c.Body)
			_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepAddReaction, Input: addReactionInput{
				Repo: t.RepoURL, CommentID: c.ID, Kind: forge.ReviewAckReaction,
			}}, nil)
		}

		var reviews []forge.PRReview
		if e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetPRReviews, Input: getPRCommentsInput{
			Repo: t.RepoURL, Number: *t.PRNumber, Since: lastCheck,
		}}, &reviews); e != nil {
			return nil, e
		}
		for _, r := range reviews {
			if r.State != forge.ReviewChangesRequested {
				continue
			}
			feedback = append(feedback, formatChangesRequested(r))
		}

		if len(feedback) > 0 {
			if e := w.transition(wc, t, model.TaskStatusImplementing); e != nil {
				return nil, e
			}
			sbox, e := w.ensureSandboxForResume(wc, t)
			if e != nil {
				return nil, e
			}
			if _, e := w.runJobWithRetry(wc, t, sandbox.ModeFeedback, sbox, t.Prompt, formatReviewFeedback(feedback)); e != nil {
				return w.fail(wc, t, mainThreadWFID, e)
			}
			if e := w.transition(wc, t, model.TaskStatusUnderReview); e != nil {
				return nil, e
			}
			_ = wc.Step(wc.Context(), durable.StepRequest{Name: stepPublishEvent, Input: newTaskEvent(t.UserID, t.ID, "feedback_addressed", string(t.Status))}, nil)
			lastCheck = wc.Now()
		}
	}
}

// ensureSandboxForResume re-provisions a sandbox when the code-review phase
// is entered on a resumed workflow that skipped the normal provision step
// (§4.3.2). Provision is idempotent on TaskID, so this is a no-op when a
// sandbox from the current execution is already live.
func (w *Worker) ensureSandboxForResume(wc durable.WorkflowContext, t *model.WorkerTask) (sandbox.Handle, error) {
	var h sandbox.Handle
	e := wc.Step(wc.Context(), durable.StepRequest{Name: stepProvisionSandbox, Input: sandbox.ProvisionRequest{
		TaskID: t.ID, RepoURL: t.RepoURL, BaseBranch: t.BaseBranch, BranchName: t.BranchName,
	}}, &h)
	return h, e
}

func issueTitle(t *model.WorkerTask) string {
	d := strings.TrimSpace(t.Description)
	if len(d) > 80 {
		d = d[:80]
	}
	return d
}

func addComment(wc durable.WorkflowContext, t *model.WorkerTask, body string) (int64, error) {
	var id int64
	e := wc.Step(wc.Context(), durable.StepRequest{Name: stepAddIssueComment, Input: addIssueCommentInput{
		Repo: t.RepoURL, Number: *t.IssueNumber, Body: body,
	}}, &id)
	return id, e
}

func getIssueComments(wc durable.WorkflowContext, t *model.WorkerTask, since time.Time) ([]forge.Comment, error) {
	var cs []forge.Comment
	e := wc.Step(wc.Context(), durable.StepRequest{Name: stepGetIssueComments, Input: getIssueCommentsInput{
		Repo: t.RepoURL, Number: *t.IssueNumber, Since: since,
	}}, &cs)
	return cs, e
}

func decodeQuestions(v any) []model.TaskQuestion {
	raw, ok := v.([]model.TaskQuestion)
	if ok {
		return raw
	}
	// Temporal's JSON round-trip decodes into []any/map[string]any; only
	// the in-memory engine hands back the original Go value directly.
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.TaskQuestion, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		q := model.TaskQuestion{
			ID:       strVal(m["id"]),
			Header:   strVal(m["header"]),
			Question: strVal(m["question"]),
		}
		out = append(out, q)
	}
	return out
}

func strVal(v any) string {
	s, _ := v.(string)
	return s
}

func formatAnswersAsFeedback(qs []model.TaskQuestion) string {
	var b strings.Builder
	for _, q := range qs {
		if q.Response == nil {
			continue
		}
		b.WriteString(q.Header)
		b.WriteString(": ")
		b.WriteString(*q.Response)
		b.WriteString("\n")
	}
	return b.String()
}

func strptr(s string) *string { return &s }

var prURLRegex = regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)/pull/(\d+)`)

type prRef struct {
	Owner, Repo string
	Number      int
}

// parsePRURL matches the canonical forge PR URL shape (§4.3.4 step 3),
// grounded on the teacher pack's ghclient.ParsePRURL.
func parsePRURL(raw string) (prRef, error) {
	m := prURLRegex.FindStringSubmatch(raw)
	if m == nil {
		return prRef{}, errInvalidPRURL(raw)
	}
	n, e := strconv.Atoi(m[3])
	if e != nil {
		return prRef{}, errInvalidPRURL(raw)
	}
	return prRef{Owner: m[1], Repo: m[2], Number: n}, nil
}
