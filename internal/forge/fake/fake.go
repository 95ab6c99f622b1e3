// Package fake provides a deterministic in-memory double for
// internal/forge, used by worker-workflow unit tests that need to drive
// the planning, implementation, and code-review phases without a real
// Git-hosting platform.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/mainloopdev/mainloopd/internal/forge"
)

// Forge is a deterministic test double implementing forge.Forge entirely
// over in-memory maps, keyed by repo+number. It never returns transient
// errors and has no hook for injecting them.
type Forge struct {
	mu sync.Mutex

	nextIssueNumber int
	nextCommentID   int64

	issues       map[issueKey]*forge.Issue
	issueBodies  map[issueKey]string
	comments     map[issueKey][]forge.Comment
	reactions    map[int64][]forge.Reaction
	prStatus     map[issueKey]forge.PRStatus
	prComments   map[issueKey][]forge.Comment
	prReviews    map[issueKey][]forge.PRReview
	checkStatus  map[issueKey]forge.CheckStatus
	checkLogs    map[issueKey]string
}

type issueKey struct {
	repo   string
	number int
}

// New constructs an empty fake Forge.
func New() *Forge {
	return &Forge{
		issues:      make(map[issueKey]*forge.Issue),
		issueBodies: make(map[issueKey]string),
		comments:    make(map[issueKey][]forge.Comment),
		reactions:   make(map[int64][]forge.Reaction),
		prStatus:    make(map[issueKey]forge.PRStatus),
		prComments:  make(map[issueKey][]forge.Comment),
		prReviews:   make(map[issueKey][]forge.PRReview),
		checkStatus: make(map[issueKey]forge.CheckStatus),
		checkLogs:   make(map[issueKey]string),
	}
}

func (f *Forge) CreateIssue(_ context.Context, repo, title, body string, labels []string) (forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIssueNumber++
	n := f.nextIssueNumber
	iss := forge.Issue{Number: n, URL: issueURL(repo, n), Title: title, Body: body, State: forge.IssueOpen, Labels: labels}
	k := issueKey{repo, n}
	f.issues[k] = &iss
	f.issueBodies[k] = body
	return iss, nil
}

func issueURL(repo string, n int) string {
	return "https://forge.test/" + repo + "/issues/" + itoa(n)
}

func prURL(repo string, n int) string {
	return "https://forge.test/" + repo + "/pull/" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

func (f *Forge) UpdateIssue(_ context.Context, repo string, number int, upd forge.IssueUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := issueKey{repo, number}
	iss, ok := f.issues[k]
	if !ok {
		return nil
	}
	if upd.Title != nil {
		iss.Title = *upd.Title
	}
	if upd.Body != nil {
		iss.Body = *upd.Body
		f.issueBodies[k] = *upd.Body
	}
	if upd.State != nil {
		iss.State = *upd.State
	}
	if upd.Labels != nil {
		iss.Labels = upd.Labels
	}
	return nil
}

func (f *Forge) AddIssueComment(_ context.Context, repo string, number int, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCommentID++
	id := f.nextCommentID
	k := issueKey{repo, number}
	f.comments[k] = append(f.comments[k], forge.Comment{ID: id, Author: "mainloop", Body: body, CreatedAt: time.Now()})
	return id, nil
}

func (f *Forge) GetIssueStatus(_ context.Context, repo string, number int, _ string) (forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if iss, ok := f.issues[issueKey{repo, number}]; ok {
		return *iss, nil
	}
	return forge.Issue{}, nil
}

func (f *Forge) GetIssueComments(_ context.Context, repo string, number int, since time.Time, _ string) ([]forge.Comment, forge.Conditional, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []forge.Comment
	for _, c := range f.comments[issueKey{repo, number}] {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, forge.Conditional{}, nil
}

func (f *Forge) GetCommentReactions(_ context.Context, _ string, commentID int64) ([]forge.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forge.Reaction(nil), f.reactions[commentID]...), nil
}

func (f *Forge) GetPRStatus(_ context.Context, repo string, number int) (forge.PRStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.prStatus[issueKey{repo, number}]; ok {
		return st, nil
	}
	return forge.PRStatus{NotFound: true}, nil
}

func (f *Forge) GetPRComments(_ context.Context, repo string, number int, since time.Time) ([]forge.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []forge.Comment
	for _, c := range f.prComments[issueKey{repo, number}] {
		if c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Forge) GetPRReviews(_ context.Context, repo string, number int, since time.Time) ([]forge.PRReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []forge.PRReview
	for _, r := range f.prReviews[issueKey{repo, number}] {
		if r.SubmittedAt.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Forge) GetCheckStatus(_ context.Context, repo string, number int) (forge.CheckStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkStatus[issueKey{repo, number}], nil
}

func (f *Forge) GetCheckFailureLogs(_ context.Context, repo string, number int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkLogs[issueKey{repo, number}], nil
}

func (f *Forge) AddReaction(_ context.Context, _ string, commentID int64, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[commentID] = append(f.reactions[commentID], forge.Reaction{Kind: kind, User: "mainloop"})
	return nil
}

// --- test-setup helpers, not part of forge.Forge ---

// SetPRStatus seeds the PR status GetPRStatus returns for (repo, number).
// It stores st as given and records no PR URL; PRURL below yields the
// fake's URL convention.
func (f *Forge) SetPRStatus(repo string, number int, st forge.PRStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prStatus[issueKey{repo, number}] = st
}

// PRURL returns the canonical PR URL fake Forge would assign PR number n
// under repo, for tests that need to hand a sandbox/executor-job fake a
// pr_url to report back through a job result.
func PRURL(repo string, n int) string { return prURL(repo, n) }

// AddPRComment appends a top-level PR comment tests can later assert the
// worker reacted to or treated as actionable feedback.
func (f *Forge) AddPRComment(repo string, number int, body string, createdAt time.Time) int64 {
	return f.addPRComment(repo, number, body, createdAt, false)
}

// AddPRInlineComment appends a diff-line review comment (IsInline true),
// for tests driving the inline-comment-is-always-actionable path (§4.3.6
// step 3) regardless of body content.
func (f *Forge) AddPRInlineComment(repo string, number int, body string, createdAt time.Time) int64 {
	return f.addPRComment(repo, number, body, createdAt, true)
}

func (f *Forge) addPRComment(repo string, number int, body string, createdAt time.Time, isInline bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCommentID++
	id := f.nextCommentID
	k := issueKey{repo, number}
	f.prComments[k] = append(f.prComments[k], forge.Comment{ID: id, Author: "reviewer", Body: body, CreatedAt: createdAt, IsInline: isInline})
	return id
}

// AddPRReview appends a pull-request review tests can use to drive the
// CHANGES_REQUESTED-without-a-comment-body path of the code-review loop.
func (f *Forge) AddPRReview(repo string, number int, author string, state forge.ReviewState, body string, submittedAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCommentID++
	id := f.nextCommentID
	k := issueKey{repo, number}
	f.prReviews[k] = append(f.prReviews[k], forge.PRReview{ID: id, Author: author, State: state, Body: body, SubmittedAt: submittedAt})
	return id
}

// SetCheckStatus seeds the combined check status GetCheckStatus returns.
func (f *Forge) SetCheckStatus(repo string, number int, st forge.CheckStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkStatus[issueKey{repo, number}] = st
}

// SetCheckFailureLogs seeds the logs GetCheckFailureLogs returns.
func (f *Forge) SetCheckFailureLogs(repo string, number int, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkLogs[issueKey{repo, number}] = logs
}

// IssueComments returns every comment recorded against (repo, number), for
// test assertions.
func (f *Forge) IssueComments(repo string, number int) []forge.Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forge.Comment(nil), f.comments[issueKey{repo, number}]...)
}

// IssueState returns the current state of an issue, for test assertions
// (e.g. confirming §4.3.3's cancel path closed the issue).
func (f *Forge) IssueState(repo string, number int) forge.IssueState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if iss, ok := f.issues[issueKey{repo, number}]; ok {
		return iss.State
	}
	return ""
}

var _ forge.Forge = (*Forge)(nil)
