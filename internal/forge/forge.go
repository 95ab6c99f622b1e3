// Package forge abstracts the external Git-hosting platform (issues, pull
// requests, comments, reactions, check runs) the worker workflow polls and
// writes to. internal/forge/github implements this contract against the
// GitHub REST API via github.com/google/go-github/v68; workflow and unit
// test code is written only against the interfaces in this file.
package forge

import (
	"context"
	"time"
)

// IssueState mirrors the subset of forge issue states the worker cares
// about.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// PRState enumerates the pull-request lifecycle states §4.3.6 branches on.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// CheckConclusion summarizes a PR's combined check-run status (§4.3.4).
type CheckConclusion string

const (
	CheckPending CheckConclusion = "pending"
	CheckSuccess CheckConclusion = "success"
	CheckFailure CheckConclusion = "failure"
)

// Conditional carries the ETag/Last-Modified precondition metadata every
// polling read returns, per §2's "Forge adapter" row and §6's requirement
// that reads carry etag/not_modified where the underlying API supports
// conditional requests.
type Conditional struct {
	ETag         string
	LastModified string
	NotModified  bool
}

// Issue is the result of CreateIssue/GetIssueStatus.
type Issue struct {
	Conditional
	Number int
	URL    string
	Title  string
	Body   string
	State  IssueState
	Labels []string
}

// Comment is one issue or PR comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
	// IsInline reports whether this comment is attached to a specific diff
	// line (GitHub's pull-request review comments) rather than being a
	// top-level issue/PR comment. Inline comments count as actionable
	// feedback regardless of body content (§4.3.6 step 3).
	IsInline bool
}

// Reaction is one reaction left on a comment. Kind matches GitHub's content
// values (+1, rocket, heart, hooray, ...).
type Reaction struct {
	Kind string
	User string
}

// PRStatus is the result of GetPRStatus.
type PRStatus struct {
	Number     int
	URL        string
	State      PRState
	Merged     bool
	HeadBranch string
	HeadSHA    string
	// NotFound reports that the PR no longer exists at the forge (e.g. the
	// repo or the PR itself was deleted); §4.3.6 step 2 treats this as a
	// terminal exit from the code-review loop without a status transition.
	NotFound bool
}

// CheckStatus is the result of GetCheckStatus (§4.3.4 CI verification loop).
type CheckStatus struct {
	Overall CheckConclusion
	Runs    int
	Failed  []string
}

// IssueUpdate carries the optional fields UpdateIssue may change; a nil
// field leaves that property untouched.
type IssueUpdate struct {
	Title *string
	Body  *string
	State *IssueState
	Labels []string
}

// ReviewState enumerates the states a forge pull-request review can be
// submitted in. The code-review loop only cares about ChangesRequested: a
// review in that state counts as actionable feedback even with an empty
// comment body (§4.3.6 expansion item 4).
type ReviewState string

const (
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changes_requested"
	ReviewCommented        ReviewState = "commented"
	ReviewPending          ReviewState = "pending"
)

// PRReview is one submitted pull-request review (distinct from the
// line/inline Comments GetPRComments returns).
type PRReview struct {
	ID          int64
	Author      string
	State       ReviewState
	Body        string
	SubmittedAt time.Time
}

// Forge is the capability interface the worker workflow's steps are built
// against (§6 Forge contract). Every method is expected to run inside a
// durable.ActivityFunc, not directly in workflow code.
type Forge interface {
	CreateIssue(ctx context.Context, repo, title, body string, labels []string) (Issue, error)
	UpdateIssue(ctx context.Context, repo string, number int, upd IssueUpdate) error
	AddIssueComment(ctx context.Context, repo string, number int, body string) (int64, error)
	GetIssueStatus(ctx context.Context, repo string, number int, etag string) (Issue, error)
	GetIssueComments(ctx context.Context, repo string, number int, since time.Time, etag string) ([]Comment, Conditional, error)
	GetCommentReactions(ctx context.Context, repo string, commentID int64) ([]Reaction, error)
	GetPRStatus(ctx context.Context, repo string, number int) (PRStatus, error)
	GetPRComments(ctx context.Context, repo string, number int, since time.Time) ([]Comment, error)
	GetPRReviews(ctx context.Context, repo string, number int, since time.Time) ([]PRReview, error)
	GetCheckStatus(ctx context.Context, repo string, number int) (CheckStatus, error)
	GetCheckFailureLogs(ctx context.Context, repo string, number int) (string, error)
	AddReaction(ctx context.Context, repo string, commentID int64, kind string) error
}
