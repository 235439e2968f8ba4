// Package policy arbitrates privileged actions an agent requests mid-run.
//
// The deny rules match over tool names and raw command text. That is a
// best-effort heuristic, not a sandbox: a benign command can trip a denied
// substring and a hostile one can escape the patterns. Treat it as a guard
// rail for well-behaved agents, never as a security boundary.
package policy

import (
	"regexp"
	"strings"
)

// Mode selects the arbitration policy for a run.
type Mode string

const (
	// ModeDefault grants every request once.
	ModeDefault Mode = "default"

	// ModeRestrictedReply rejects tools that write to the issue tracker.
	// Only the orchestrator may post comments; funneling all writes
	// through one writer keeps comment ordering deterministic.
	ModeRestrictedReply Mode = "restricted-reply"

	// ModeReadOnlyReview rejects tracker writes plus any shell-like action
	// matching a deny-list of mutating verbs.
	ModeReadOnlyReview Mode = "read-only-review"
)

// Verdict is the arbitration outcome.
type Verdict string

const (
	GrantOnce Verdict = "once"
	Reject    Verdict = "reject"
)

// Request describes one permission decision point. Any field may be empty;
// Decide is total over all shapes.
type Request struct {
	ActionID string
	Tools    []string
	Command  string
}

// Decision carries the verdict and, for rejections, the rule that fired.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// trackerWriteTools matches tool names that post to the issue tracker's
// write API (comments, replies). Normalized to lower case before matching.
var trackerWriteTools = regexp.MustCompile(`(add|create|post|update)[-_]?(issue[-_]?)?(comment|reply)|comment[-_]?(on|create)`)

// trackerWriteCommands matches shell invocations of the tracker CLI that
// post comments.
var trackerWriteCommands = regexp.MustCompile(`\bgh\s+(issue|pr)\s+comment\b|\bgh\s+api\b.*\bcomments\b`)

// mutatingPatterns is the read-only review deny-list: version-control
// mutations, filesystem mutations, output redirection, and package-manager
// installs. Matched against the raw command text.
var mutatingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+(commit|push|merge|rebase|reset|checkout|cherry-pick|apply)\b`),
	regexp.MustCompile(`(^|[;&|]\s*)(rm|mv|cp|chmod|chown|ln)\b`),
	regexp.MustCompile(`>{1,2}`),
	regexp.MustCompile(`\b(npm|pnpm|yarn)\s+(install|add)\b`),
	regexp.MustCompile(`\bpip3?\s+install\b`),
	regexp.MustCompile(`\bgo\s+(install|get)\b`),
	regexp.MustCompile(`\b(apt|apt-get|dnf|yum|brew|apk)\s+(install|add)\b`),
	regexp.MustCompile(`\bcargo\s+(install|add)\b`),
}

// Decide maps a request and a mode to a verdict. Pure and total: it returns
// a decision for every metadata shape, including an entirely empty request,
// and never errors. Unknown modes fall back to ModeDefault's behavior.
func Decide(req Request, mode Mode) Decision {
	switch mode {
	case ModeRestrictedReply:
		if d, rejected := rejectTrackerWrites(req); rejected {
			return d
		}
		return Decision{Verdict: GrantOnce}
	case ModeReadOnlyReview:
		if d, rejected := rejectTrackerWrites(req); rejected {
			return d
		}
		if d, rejected := rejectMutations(req); rejected {
			return d
		}
		return Decision{Verdict: GrantOnce}
	default:
		return Decision{Verdict: GrantOnce}
	}
}

func rejectTrackerWrites(req Request) (Decision, bool) {
	for _, tool := range req.Tools {
		if trackerWriteTools.MatchString(strings.ToLower(tool)) {
			return Decision{
				Verdict: Reject,
				Reason:  "tool " + tool + " writes to the issue tracker; only the orchestrator may post",
			}, true
		}
	}
	if req.Command != "" && trackerWriteCommands.MatchString(req.Command) {
		return Decision{
			Verdict: Reject,
			Reason:  "command posts to the issue tracker; only the orchestrator may post",
		}, true
	}
	return Decision{}, false
}

func rejectMutations(req Request) (Decision, bool) {
	if req.Command == "" {
		return Decision{}, false
	}
	for _, p := range mutatingPatterns {
		if p.MatchString(req.Command) {
			return Decision{
				Verdict: Reject,
				Reason:  "command matches read-only deny-list: " + p.String(),
			}, true
		}
	}
	return Decision{}, false
}
