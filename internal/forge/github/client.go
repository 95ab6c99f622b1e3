// Package github implements internal/forge.Forge against the GitHub REST
// API using github.com/google/go-github/v68. Every call is wrapped in a
// sony/gobreaker circuit breaker and paced by a golang.org/x/time/rate
// limiter, so a flapping forge fails fast once the breaker opens. A failed
// call is not retried: each call makes a single request and returns its
// error to the caller.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/go-github/v68/github"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mainloopdev/mainloopd/internal/forge"
)

// Client implements forge.Forge over a *github.Client.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

// Config tunes the rate limiter and circuit breaker wrapping every call.
type Config struct {
	// RequestsPerSecond bounds outbound call rate; zero uses a default
	// conservative pace well under GitHub's 5000/hour authenticated quota.
	RequestsPerSecond float64
	// Burst is the limiter's burst allowance.
	Burst int
	// BreakerName identifies this breaker in metrics/logs.
	BreakerName string
}

// defaultConfig keeps calls comfortably under GitHub's secondary rate
// limits even under worst-case polling fan-out across many concurrent
// worker tasks.
func defaultConfig() Config {
	return Config{RequestsPerSecond: 5, Burst: 10, BreakerName: "github-forge"}
}

// New wraps an authenticated *github.Client (construct it with
// github.NewClient(nil).WithAuthToken(token) at the call site, matching the
// teacher pack's ghclient.NewClient convention) as a forge.Forge.
func New(gh *github.Client, cfg Config) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg = defaultConfig()
	}
	st := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[any](st),
	}
}

// call centralizes rate limiting + circuit breaking for every GitHub API
// invocation; the breaker's "open" error surfaces to callers as a wrapped
// transient-forge error per §7.
func (c *Client) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "github %s: rate limiter", op)
	}
	v, err := c.breaker.Execute(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "github %s", op)
	}
	return v, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: invalid repo slug %q, want owner/name", repo)
	}
	return parts[0], parts[1], nil
}

func (c *Client) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (forge.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return forge.Issue{}, err
	}
	v, err := c.call(ctx, "CreateIssue", func() (any, error) {
		iss, _, err := c.gh.Issues.Create(ctx, owner, name, &github.IssueRequest{
			Title:  github.Ptr(title),
			Body:   github.Ptr(body),
			Labels: &labels,
		})
		return iss, err
	})
	if err != nil {
		return forge.Issue{}, err
	}
	iss := v.(*github.Issue)
	return forge.Issue{
		Number: iss.GetNumber(),
		URL:    iss.GetHTMLURL(),
		Title:  iss.GetTitle(),
		Body:   iss.GetBody(),
		State:  forge.IssueState(iss.GetState()),
		Labels: labelNames(iss.Labels),
	}, nil
}

func (c *Client) UpdateIssue(ctx context.Context, repo string, number int, upd forge.IssueUpdate) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	req := &github.IssueRequest{}
	if upd.Title != nil {
		req.Title = upd.Title
	}
	if upd.Body != nil {
		req.Body = upd.Body
	}
	if upd.State != nil {
		s := string(*upd.State)
		req.State = &s
	}
	if upd.Labels != nil {
		req.Labels = &upd.Labels
	}
	_, err = c.call(ctx, "UpdateIssue", func() (any, error) {
		_, _, err := c.gh.Issues.Edit(ctx, owner, name, number, req)
		return nil, err
	})
	return err
}

func (c *Client) AddIssueComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	v, err := c.call(ctx, "AddIssueComment", func() (any, error) {
		cm, _, err := c.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: github.Ptr(body)})
		return cm, err
	})
	if err != nil {
		return 0, err
	}
	return v.(*github.IssueComment).GetID(), nil
}

func (c *Client) GetIssueStatus(ctx context.Context, repo string, number int, etag string) (forge.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return forge.Issue{}, err
	}
	var respEtag string
	v, err := c.call(ctx, "GetIssueStatus", func() (any, error) {
		req, err := c.gh.NewRequest("GET", fmt.Sprintf("repos/%s/%s/issues/%d", owner, name, number), nil)
		if err != nil {
			return nil, err
		}
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		iss := new(github.Issue)
		resp, err := c.gh.Do(ctx, req, iss)
		if resp != nil {
			respEtag = resp.Header.Get("ETag")
			if resp.StatusCode == 304 {
				return (*github.Issue)(nil), nil
			}
		}
		return iss, err
	})
	if err != nil {
		return forge.Issue{}, err
	}
	iss, _ := v.(*github.Issue)
	if iss == nil {
		return forge.Issue{Conditional: forge.Conditional{ETag: etag, NotModified: true}}, nil
	}
	return forge.Issue{
		Conditional: forge.Conditional{ETag: respEtag},
		Number:      iss.GetNumber(),
		URL:         iss.GetHTMLURL(),
		Title:       iss.GetTitle(),
		Body:        iss.GetBody(),
		State:       forge.IssueState(iss.GetState()),
		Labels:      labelNames(iss.Labels),
	}, nil
}

func (c *Client) GetIssueComments(ctx context.Context, repo string, number int, since time.Time, etag string) ([]forge.Comment, forge.Conditional, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, forge.Conditional{}, err
	}
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	if !since.IsZero() {
		opts.Since = &since
	}
	var respEtag string
	var out []forge.Comment
	for {
		v, err := c.call(ctx, "GetIssueComments", func() (any, error) {
			cs, resp, err := c.gh.Issues.ListComments(ctx, owner, name, number, opts)
			if resp != nil {
				respEtag = resp.Header.Get("ETag")
			}
			return struct {
				comments []*github.IssueComment
				resp     *github.Response
			}{cs, resp}, err
		})
		if err != nil {
			return nil, forge.Conditional{}, err
		}
		page := v.(struct {
			comments []*github.IssueComment
			resp     *github.Response
		})
		for _, cm := range page.comments {
			out = append(out, forge.Comment{
				ID:        cm.GetID(),
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if page.resp == nil || page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return out, forge.Conditional{ETag: respEtag}, nil
}

func (c *Client) GetCommentReactions(ctx context.Context, repo string, commentID int64) ([]forge.Reaction, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	v, err := c.call(ctx, "GetCommentReactions", func() (any, error) {
		rs, _, err := c.gh.Reactions.ListIssueCommentReactions(ctx, owner, name, commentID, nil)
		return rs, err
	})
	if err != nil {
		return nil, err
	}
	var out []forge.Reaction
	for _, r := range v.([]*github.Reaction) {
		out = append(out, forge.Reaction{Kind: r.GetContent(), User: r.GetUser().GetLogin()})
	}
	return out, nil
}

func (c *Client) GetPRStatus(ctx context.Context, repo string, number int) (forge.PRStatus, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return forge.PRStatus{}, err
	}
	var notFound bool
	v, err := c.call(ctx, "GetPRStatus", func() (any, error) {
		pr, resp, err := c.gh.PullRequests.Get(ctx, owner, name, number)
		if resp != nil && resp.StatusCode == 404 {
			notFound = true
			return (*github.PullRequest)(nil), nil
		}
		return pr, err
	})
	if err != nil {
		return forge.PRStatus{}, err
	}
	if notFound {
		return forge.PRStatus{Number: number, NotFound: true}, nil
	}
	pr := v.(*github.PullRequest)
	state := forge.PRStateOpen
	switch {
	case pr.GetMerged():
		state = forge.PRStateMerged
	case pr.GetState() == "closed":
		state = forge.PRStateClosed
	}
	return forge.PRStatus{
		Number:     pr.GetNumber(),
		URL:        pr.GetHTMLURL(),
		State:      state,
		Merged:     pr.GetMerged(),
		HeadBranch: pr.GetHead().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
	}, nil
}

func (c *Client) GetPRComments(ctx context.Context, repo string, number int, since time.Time) ([]forge.Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	issueComments, _, err := c.GetIssueComments(ctx, repo, number, since, "")
	if err != nil {
		return nil, err
	}
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	if !since.IsZero() {
		opts.Since = since
	}
	var out []forge.Comment
	out = append(out, issueComments...)
	for {
		v, err := c.call(ctx, "GetPRComments", func() (any, error) {
			cs, resp, err := c.gh.PullRequests.ListComments(ctx, owner, name, number, opts)
			return struct {
				comments []*github.PullRequestComment
				resp     *github.Response
			}{cs, resp}, err
		})
		if err != nil {
			return nil, err
		}
		page := v.(struct {
			comments []*github.PullRequestComment
			resp     *github.Response
		})
		for _, cm := range page.comments {
			out = append(out, forge.Comment{
				ID:        cm.GetID(),
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
				// PullRequests.ListComments only ever returns diff-line
				// review comments (cm.Path identifies the anchor);
				// top-level issue/PR comments come from GetIssueComments
				// above and never set IsInline.
				IsInline: cm.GetPath() != "",
			})
		}
		if page.resp == nil || page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return out, nil
}

func (c *Client) GetPRReviews(ctx context.Context, repo string, number int, since time.Time) ([]forge.PRReview, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.ListOptions{PerPage: 100}
	var out []forge.PRReview
	for {
		v, err := c.call(ctx, "GetPRReviews", func() (any, error) {
			rs, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
			return struct {
				reviews []*github.PullRequestReview
				resp    *github.Response
			}{rs, resp}, err
		})
		if err != nil {
			return nil, err
		}
		page := v.(struct {
			reviews []*github.PullRequestReview
			resp    *github.Response
		})
		for _, r := range page.reviews {
			submittedAt := r.GetSubmittedAt().Time
			if !since.IsZero() && !submittedAt.After(since) {
				continue
			}
			out = append(out, forge.PRReview{
				ID:          r.GetID(),
				Author:      r.GetUser().GetLogin(),
				State:       reviewState(r.GetState()),
				Body:        r.GetBody(),
				SubmittedAt: submittedAt,
			})
		}
		if page.resp == nil || page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return out, nil
}

func reviewState(s string) forge.ReviewState {
	switch s {
	case "APPROVED":
		return forge.ReviewApproved
	case "CHANGES_REQUESTED":
		return forge.ReviewChangesRequested
	case "COMMENTED":
		return forge.ReviewCommented
	default:
		return forge.ReviewPending
	}
}

func (c *Client) GetCheckStatus(ctx context.Context, repo string, number int) (forge.CheckStatus, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return forge.CheckStatus{}, err
	}
	prV, err := c.call(ctx, "GetCheckStatus:pr", func() (any, error) {
		pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
		return pr, err
	})
	if err != nil {
		return forge.CheckStatus{}, err
	}
	pr := prV.(*github.PullRequest)
	v, err := c.call(ctx, "GetCheckStatus:runs", func() (any, error) {
		runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, name, pr.GetHead().GetSHA(), nil)
		return runs, err
	})
	if err != nil {
		return forge.CheckStatus{}, err
	}
	runs := v.(*github.ListCheckRunsResults)
	out := forge.CheckStatus{Overall: forge.CheckSuccess, Runs: runs.GetTotal()}
	for _, r := range runs.CheckRuns {
		switch r.GetStatus() {
		case "completed":
			if c := r.GetConclusion(); c != "success" && c != "neutral" && c != "skipped" {
				out.Failed = append(out.Failed, r.GetName())
			}
		default:
			out.Overall = forge.CheckPending
		}
	}
	if len(out.Failed) > 0 {
		out.Overall = forge.CheckFailure
	}
	return out, nil
}

func (c *Client) GetCheckFailureLogs(ctx context.Context, repo string, number int) (string, error) {
	status, err := c.GetCheckStatus(ctx, repo, number)
	if err != nil {
		return "", err
	}
	if len(status.Failed) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, name := range status.Failed {
		fmt.Fprintf(&b, "FAILED CHECK: %s\n", name)
	}
	return b.String(), nil
}

func (c *Client) AddReaction(ctx context.Context, repo string, commentID int64, kind string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "AddReaction", func() (any, error) {
		r, _, err := c.gh.Reactions.CreateIssueCommentReaction(ctx, owner, name, commentID, kind)
		return r, err
	})
	return err
}

func labelNames(ls []*github.Label) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.GetName())
	}
	return out
}
