// Package sandbox abstracts the isolated execution environment a worker
// task's implementation work runs in: provisioning a workspace, launching a
// one-shot executor job inside it in a given mode (plan/implement/feedback/
// fix), and tearing it down. The concrete adapter (container orchestrator,
// VM pool, remote build farm) is out of scope here; this package defines
// only the contract the worker workflow drives through durable.Engine steps.
package sandbox

import "context"

// Mode names the kind of one-shot job an ExecutorJob launch performs.
type Mode string

const (
	ModePlan       Mode = "plan"
	ModeImplement  Mode = "implement"
	ModeFeedback   Mode = "feedback"
	ModeFix        Mode = "fix"
)

// ProvisionRequest describes the workspace a task's implementation work runs in.
type ProvisionRequest struct {
	TaskID     string
	RepoURL    string
	BaseBranch string
	BranchName string
}

// Handle identifies a provisioned sandbox for later job launches and teardown.
type Handle struct {
	SandboxID string
}

// LaunchRequest describes one mode-parameterized, idempotent job invocation.
// (TaskID, Mode, Iteration) uniquely identifies the job: relaunching with the
// same key after a crash must not start a duplicate job against the forge.
type LaunchRequest struct {
	Sandbox   Handle
	TaskID    string
	Mode      Mode
	Iteration int
	Prompt    string
	// CallbackURL is where the job must POST its terminal JobResultEnvelope
	// exactly once, whether it succeeds or fails.
	CallbackURL string

	// The remaining fields are set by the environment variables table in
	// SPEC_FULL.md §6 (REPO_URL, ISSUE_NUMBER, PR_NUMBER, BRANCH_NAME,
	// FEEDBACK_CONTEXT); a given mode only populates the fields relevant to
	// it (e.g. a plan job has no PRNumber yet).
	RepoURL         string
	IssueNumber     int
	PRNumber        int
	BranchName      string
	FeedbackContext string
}

// JobHandle identifies a launched job for status inspection.
type JobHandle struct {
	JobID string
}

// Sandbox provisions and destroys the isolated workspace an ExecutorJob runs
// inside, and launches the job itself.
type Sandbox interface {
	// Provision creates a fresh workspace checked out at req.BaseBranch with
	// req.BranchName created (but not yet pushed). Provisioning is itself
	// idempotent on TaskID: calling it twice for the same task returns the
	// existing sandbox's Handle rather than creating a second one.
	Provision(ctx context.Context, req ProvisionRequest) (Handle, error)

	// Destroy tears down the sandbox and releases its resources. Safe to
	// call on an already-destroyed or unknown handle.
	Destroy(ctx context.Context, h Handle) error
}

// ExecutorJob launches the one-shot job that actually performs planning,
// implementation, or fix work inside a provisioned sandbox.
type ExecutorJob interface {
	// Launch starts req.Mode's job inside req.Sandbox. Launch returns once
	// the job has been accepted for execution; the job's terminal result
	// arrives asynchronously via req.CallbackURL, not through Launch's
	// return value. Launching twice with the same (TaskID, Mode, Iteration)
	// is a no-op that returns the original JobHandle.
	Launch(ctx context.Context, req LaunchRequest) (JobHandle, error)
}
