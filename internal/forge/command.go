package forge

import (
	"regexp"
	"strings"
)

// Action enumerates the verdicts ParseCommand can extract from a forge
// comment body (§6 Command grammar).
type Action string

const (
	ActionNone    Action = ""
	ActionApprove Action = "approve"
	ActionRevise  Action = "revise"
)

var (
	approveRe = regexp.MustCompile(`(?i)^\s*/(?:implement|lgtm)\s*$`)
	reviseRe  = regexp.MustCompile(`(?i)^\s*/revise\s+(.+)$`)
)

// ParsedCommand is the result of matching a comment body against the
// anchored command grammar.
type ParsedCommand struct {
	Action Action
	// Text is the captured revision feedback for ActionRevise; empty
	// otherwise.
	Text string
}

// ParseCommand matches body against the command grammar in §6. Everything
// that doesn't match either anchored pattern yields ActionNone — the
// command parser does not attempt partial matches, but a comment ignored
// here may still be picked up as actionable feedback by IsActionableFeedback
// during the code-review phase.
func ParseCommand(body string) ParsedCommand {
	body = strings.TrimRight(body, "\r\n")
	if approveRe.MatchString(body) {
		return ParsedCommand{Action: ActionApprove}
	}
	if m := reviseRe.FindStringSubmatch(body); m != nil {
		return ParsedCommand{Action: ActionRevise, Text: strings.TrimSpace(m[1])}
	}
	return ParsedCommand{Action: ActionNone}
}

// ApprovalReactions lists the reaction kinds §4.3.3 sub-phase 4 treats as
// an equivalent to an explicit /implement comment.
var ApprovalReactions = map[string]bool{
	"+1":     true,
	"rocket": true,
	"heart":  true,
	"hooray": true,
}

// ReviewAckReaction is the reaction posted to acknowledge an actionable
// code-review comment as the review loop collects it, before the feedback
// job for it is launched (§4.3.6 step 4), distinct
// from the plan-approval reactions above. Grounded on the original
// implementation's github_pr.acknowledge_comments, which defaults to
// reaction="eyes".
const ReviewAckReaction = "eyes"

// HasApprovalReaction reports whether any reaction in rs is one of the
// plan-comment approval kinds.
func HasApprovalReaction(rs []Reaction) bool {
	for _, r := range rs {
		if ApprovalReactions[r.Kind] {
			return true
		}
	}
	return false
}

// IsActionableFeedback reports whether a code-review-phase comment should
// trigger a feedback job (§4.3.6 step 3): it mentions the agent handle,
// carries an explicit /revise command, or (when isInline is true) is an
// inline review comment attached to a diff line.
func IsActionableFeedback(body, agentHandle string, isInline bool) bool {
	if isInline {
		return true
	}
	if reviseRe.MatchString(strings.TrimRight(body, "\r\n")) {
		return true
	}
	if agentHandle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(agentHandle))
}
