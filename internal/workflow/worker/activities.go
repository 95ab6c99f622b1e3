package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/model"
	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/sandbox"
)

// Step name constants. Every workflow Step call site in state.go/phases.go
// names one of these; RegisterActivities binds each to its handler.
const (
	stepLoadTask            = "worker.loadTask"
	stepSaveTask            = "worker.saveTask"
	stepCreateIssue         = "worker.createIssue"
	stepUpdateIssue         = "worker.updateIssue"
	stepAddIssueComment     = "worker.addIssueComment"
	stepGetIssueComments    = "worker.getIssueComments"
	stepGetCommentReactions = "worker.getCommentReactions"
	stepProvisionSandbox    = "worker.provisionSandbox"
	stepDestroySandbox      = "worker.destroySandbox"
	stepLaunchJob           = "worker.launchJob"
	stepGetPRStatus         = "worker.getPRStatus"
	stepGetPRComments       = "worker.getPRComments"
	stepGetPRReviews        = "worker.getPRReviews"
	stepGetCheckStatus      = "worker.getCheckStatus"
	stepGetCheckFailureLogs = "worker.getCheckFailureLogs"
	stepAddReaction         = "worker.addReaction"
	stepPublishEvent        = "worker.publishEvent"
	stepSendWorkerResult    = "worker.sendWorkerResult"
)

// RegisterActivities binds every step name above to w's handler and
// registers the worker-task workflow itself. Call once per process during
// startup, before the engine's workers start.
func (w *Worker) RegisterActivities(ctx context.Context, eng durable.Engine) error {
	w.engine = eng
	acts := map[string]durable.ActivityFunc{
		stepLoadTask:            w.actLoadTask,
		stepSaveTask:            w.actSaveTask,
		stepCreateIssue:         w.actCreateIssue,
		stepUpdateIssue:         w.actUpdateIssue,
		stepAddIssueComment:     w.actAddIssueComment,
		stepGetIssueComments:    w.actGetIssueComments,
		stepGetCommentReactions: w.actGetCommentReactions,
		stepProvisionSandbox:    w.actProvisionSandbox,
		stepDestroySandbox:      w.actDestroySandbox,
		stepLaunchJob:           w.actLaunchJob,
		stepGetPRStatus:         w.actGetPRStatus,
		stepGetPRComments:       w.actGetPRComments,
		stepGetPRReviews:        w.actGetPRReviews,
		stepGetCheckStatus:      w.actGetCheckStatus,
		stepGetCheckFailureLogs: w.actGetCheckFailureLogs,
		stepAddReaction:         w.actAddReaction,
		stepPublishEvent:        w.actPublishEvent,
		stepSendWorkerResult:    w.actSendWorkerResult,
	}
	for name, fn := range acts {
		if err := eng.RegisterActivity(ctx, durable.ActivityDefinition{Name: name, Handler: fn}); err != nil {
			return errors.Wrapf(err, "register activity %q", name)
		}
	}
	return eng.RegisterWorkflow(ctx, durable.WorkflowDefinition{
		Name:    WorkflowName,
		Queue:   queue.WorkerTasks,
		Version: Version,
		Handler: w.Workflow,
	})
}

func (w *Worker) actLoadTask(ctx context.Context, input any) (any, error) {
	req := input.(loadTaskInput)
	t, err := w.Store.GetWorkerTask(ctx, req.TaskID)
	if err != nil {
		return nil, errors.Wrapf(err, "load task %s", req.TaskID)
	}
	return t, nil
}

type loadTaskInput struct{ TaskID string }

func (w *Worker) actSaveTask(ctx context.Context, input any) (any, error) {
	t := input.(*model.WorkerTask)
	if err := w.Store.UpdateWorkerTask(ctx, t); err != nil {
		return nil, errors.Wrapf(err, "save task %s", t.ID)
	}
	return struct{}{}, nil
}

type createIssueInput struct {
	Repo, Title, Body string
	Labels            []string
}

func (w *Worker) actCreateIssue(ctx context.Context, input any) (any, error) {
	req := input.(createIssueInput)
	iss, err := w.Forge.CreateIssue(ctx, req.Repo, req.Title, req.Body, req.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "create issue")
	}
	return iss, nil
}

type updateIssueInput struct {
	Repo   string
	Number int
	Update forge.IssueUpdate
}

func (w *Worker) actUpdateIssue(ctx context.Context, input any) (any, error) {
	req := input.(updateIssueInput)
	if err := w.Forge.UpdateIssue(ctx, req.Repo, req.Number, req.Update); err != nil {
		return nil, errors.Wrap(err, "update issue")
	}
	return struct{}{}, nil
}

type addIssueCommentInput struct {
	Repo   string
	Number int
	Body   string
}

func (w *Worker) actAddIssueComment(ctx context.Context, input any) (any, error) {
	req := input.(addIssueCommentInput)
	id, err := w.Forge.AddIssueComment(ctx, req.Repo, req.Number, req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "add issue comment")
	}
	return id, nil
}

type getIssueCommentsInput struct {
	Repo   string
	Number int
	Since  time.Time
}

func (w *Worker) actGetIssueComments(ctx context.Context, input any) (any, error) {
	req := input.(getIssueCommentsInput)
	cs, _, err := w.Forge.GetIssueComments(ctx, req.Repo, req.Number, req.Since, "")
	if err != nil {
		return nil, errors.Wrap(err, "get issue comments")
	}
	return cs, nil
}

type getCommentReactionsInput struct {
	Repo      string
	CommentID int64
}

func (w *Worker) actGetCommentReactions(ctx context.Context, input any) (any, error) {
	req := input.(getCommentReactionsInput)
	rs, err := w.Forge.GetCommentReactions(ctx, req.Repo, req.CommentID)
	if err != nil {
		return nil, errors.Wrap(err, "get comment reactions")
	}
	return rs, nil
}

func (w *Worker) actProvisionSandbox(ctx context.Context, input any) (any, error) {
	req := input.(sandbox.ProvisionRequest)
	h, err := w.Sandbox.Provision(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "provision sandbox")
	}
	return h, nil
}

func (w *Worker) actDestroySandbox(ctx context.Context, input any) (any, error) {
	h := input.(sandbox.Handle)
	if err := w.Sandbox.Destroy(ctx, h); err != nil {
		return nil, errors.Wrap(err, "destroy sandbox")
	}
	return struct{}{}, nil
}

func (w *Worker) actLaunchJob(ctx context.Context, input any) (any, error) {
	req := input.(sandbox.LaunchRequest)
	h, err := w.Jobs.Launch(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "launch job")
	}
	return h, nil
}

type repoNumberInput struct {
	Repo   string
	Number int
}

func (w *Worker) actGetPRStatus(ctx context.Context, input any) (any, error) {
	req := input.(repoNumberInput)
	st, err := w.Forge.GetPRStatus(ctx, req.Repo, req.Number)
	if err != nil {
		return nil, errors.Wrap(err, "get pr status")
	}
	return st, nil
}

type getPRCommentsInput struct {
	Repo   string
	Number int
	Since  time.Time
}

func (w *Worker) actGetPRComments(ctx context.Context, input any) (any, error) {
	req := input.(getPRCommentsInput)
	cs, err := w.Forge.GetPRComments(ctx, req.Repo, req.Number, req.Since)
	if err != nil {
		return nil, errors.Wrap(err, "get pr comments")
	}
	return cs, nil
}

func (w *Worker) actGetPRReviews(ctx context.Context, input any) (any, error) {
	req := input.(getPRCommentsInput)
	rs, err := w.Forge.GetPRReviews(ctx, req.Repo, req.Number, req.Since)
	if err != nil {
		return nil, errors.Wrap(err, "get pr reviews")
	}
	return rs, nil
}

func (w *Worker) actGetCheckStatus(ctx context.Context, input any) (any, error) {
	req := input.(repoNumberInput)
	st, err := w.Forge.GetCheckStatus(ctx, req.Repo, req.Number)
	if err != nil {
		return nil, errors.Wrap(err, "get check status")
	}
	return st, nil
}

func (w *Worker) actGetCheckFailureLogs(ctx context.Context, input any) (any, error) {
	req := input.(repoNumberInput)
	logs, err := w.Forge.GetCheckFailureLogs(ctx, req.Repo, req.Number)
	if err != nil {
		return nil, errors.Wrap(err, "get check failure logs")
	}
	return logs, nil
}

type addReactionInput struct {
	Repo      string
	CommentID int64
	Kind      string
}

func (w *Worker) actAddReaction(ctx context.Context, input any) (any, error) {
	req := input.(addReactionInput)
	if err := w.Forge.AddReaction(ctx, req.Repo, req.CommentID, req.Kind); err != nil {
		return nil, errors.Wrap(err, "add reaction")
	}
	return struct{}{}, nil
}

func (w *Worker) actPublishEvent(_ context.Context, input any) (any, error) {
	ev := input.(taskEvent)
	if w.Bus == nil {
		return struct{}{}, nil
	}
	_ = w.Bus.Publish(context.Background(), ev)
	return struct{}{}, nil
}

type sendWorkerResultInput struct {
	MainThreadWorkflowID string
	Envelope             model.WorkerResultEnvelope
}

func (w *Worker) actSendWorkerResult(ctx context.Context, input any) (any, error) {
	req := input.(sendWorkerResultInput)
	if w.engine == nil {
		return nil, fmt.Errorf("worker: engine not set, call RegisterActivities first")
	}
	if err := w.engine.Send(ctx, req.MainThreadWorkflowID, model.TopicWorkerResult, req.Envelope); err != nil {
		return nil, errors.Wrap(err, "send worker result")
	}
	return struct{}{}, nil
}
