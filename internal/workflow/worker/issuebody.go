package worker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mainloopdev/mainloopd/internal/forge"
	"github.com/mainloopdev/mainloopd/internal/model"
)

// requirementsKey is where gathered question-round answers are folded into
// WorkerTask.Result (§4.3.3 sub-phase 3: "merge the answers into
// context.requirements"). WorkerTask has no free-form context map of its
// own — Result is the one bag of accumulated planning state a task carries
// — so requirements live at Result["requirements"].
const requirementsKey = "requirements"

func taskRequirements(t *model.WorkerTask) map[string]string {
	if t.Result == nil {
		return nil
	}
	v, ok := t.Result[requirementsKey]
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprintf("%v", val)
		}
		return out
	default:
		return nil
	}
}

func mergeTaskRequirements(t *model.WorkerTask, answers map[string]string) {
	reqs := taskRequirements(t)
	if reqs == nil {
		reqs = make(map[string]string)
	}
	for k, v := range answers {
		reqs[k] = v
	}
	if t.Result == nil {
		t.Result = make(map[string]any)
	}
	t.Result[requirementsKey] = reqs
}

// buildIssueBody renders the four fixed-order sections of the issue body
// schema (§6): Original Request, Requirements, Implementation Plan, and the
// trailing Task ID / Status footer. Requirements and Implementation Plan
// are omitted until populated.
func buildIssueBody(t *model.WorkerTask) string {
	var b strings.Builder

	b.WriteString("## Original Request\n> ")
	b.WriteString(strings.ReplaceAll(strings.TrimSpace(t.Description), "\n", "\n> "))
	b.WriteString("\n")

	if reqs := taskRequirements(t); len(reqs) > 0 {
		b.WriteString("\n## Requirements\n")
		keys := make([]string, 0, len(reqs))
		for k := range reqs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, reqs[k])
		}
	}

	if t.PlanText != "" {
		b.WriteString("\n## Implementation Plan\n")
		b.WriteString(t.PlanText)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n---\n_Task ID: `%s`_ | _Status: %s_\n", t.ID, t.Status)
	return b.String()
}

// formatQuestions renders pending questions as an issue comment body for
// §4.3.3 sub-phase 3.
func formatQuestions(qs []model.TaskQuestion) string {
	var b strings.Builder
	b.WriteString("I have a few questions before I can finalize the plan:\n\n")
	for i, q := range qs {
		fmt.Fprintf(&b, "**%d. %s**\n\n%s\n", i+1, q.Header, q.Question)
		for _, opt := range q.Options {
			if opt.Description != "" {
				fmt.Fprintf(&b, "- `%s` — %s\n", opt.Label, opt.Description)
			} else {
				fmt.Fprintf(&b, "- `%s`\n", opt.Label)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with your answers, or open the task in the app to answer inline.\n")
	return b.String()
}

// formatPlanComment renders the dedicated plan comment whose reactions
// double as approval (§4.3.3 sub-phase 4).
func formatPlanComment(t *model.WorkerTask) string {
	var b strings.Builder
	b.WriteString("### Proposed implementation plan\n\n")
	b.WriteString(t.PlanText)
	b.WriteString("\n\n---\n")
	b.WriteString("React with :+1:, :rocket:, :heart:, or :hooray: to approve, ")
	b.WriteString("comment `/implement` or `/lgtm` to approve, ")
	b.WriteString("or comment `/revise <feedback>` to request changes.\n")
	return b.String()
}

// formatCancelComment is the standard comment posted when a task is closed
// out by cancellation (§7 cancellation, S4 cancel-during-plan-review).
func formatCancelComment() string {
	return "❌ Task cancelled by user."
}

// formatCIFailureContext renders check-run failure logs as feedback context
// for a fix job (§4.3.4 step b).
func formatCIFailureContext(logs string) string {
	return "The following CI checks failed:\n\n```\n" + logs + "\n```\n"
}

// formatReviewFeedback renders actionable PR comments as feedback context
// for a feedback job (§4.3.6 step 4).
func formatReviewFeedback(comments []string) string {
	var b strings.Builder
	b.WriteString("Address the following review feedback:\n\n")
	for _, c := range comments {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}

// formatChangesRequested renders a CHANGES_REQUESTED review as feedback
// context even when its body is empty, per §4.3.6 expansion item 4.
func formatChangesRequested(r forge.PRReview) string {
	if strings.TrimSpace(r.Body) == "" {
		return r.Author + " requested changes without further comment."
	}
	return r.Author + " requested changes: " + r.Body
}
