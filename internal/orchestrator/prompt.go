package orchestrator

import (
	"fmt"
	"strings"

	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/github"
	"github.com/foremanhq/foreman/internal/runner"
)

// buildPrompt assembles the instruction the agent session starts with.
// The issue may be nil when the tracker fetch failed; the event alone still
// yields a usable, if thinner, prompt.
func buildPrompt(d *dispatch.Decision, ev *event.ChangeEvent, issue *github.Issue) string {
	var b strings.Builder

	if issue != nil {
		fmt.Fprintf(&b, "Issue #%d: %s\n\n", issue.Number, issue.Title)
		if issue.Body != "" {
			b.WriteString(issue.Body)
			b.WriteString("\n\n")
		}
	} else {
		fmt.Fprintf(&b, "Issue #%d\n\n", ev.SubjectID)
	}

	switch d.Action {
	case dispatch.ActionImplement:
		b.WriteString("Implement the change this issue describes. " +
			"Work in the current directory, keep the change minimal, and make sure existing tests still pass.")
	case dispatch.ActionReview:
		b.WriteString("Review the work tracked by this issue. " +
			"Read the relevant code and reply with your findings. Do not modify any files.")
	case dispatch.ActionReply:
		if ev.CommentBody != "" {
			fmt.Fprintf(&b, "A user wrote:\n\n%s\n\n", ev.CommentBody)
		}
		b.WriteString("Answer the user's question about this issue. Reply with the answer only; do not modify any files.")
	case dispatch.ActionPublish:
		b.WriteString("Prepare this issue's work for release: update changelogs and version references as the repository's conventions dictate.")
	}

	return b.String()
}

func commitMessage(ev *event.ChangeEvent, issue *github.Issue) string {
	if issue != nil && issue.Title != "" {
		return fmt.Sprintf("%s (#%d)", issue.Title, issue.Number)
	}
	return fmt.Sprintf("Changes for issue #%d", ev.SubjectID)
}

func prTitle(ev *event.ChangeEvent, issue *github.Issue) string {
	if issue != nil && issue.Title != "" {
		return issue.Title
	}
	return fmt.Sprintf("Changes for issue #%d", ev.SubjectID)
}

func prBody(ev *event.ChangeEvent, res *runner.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Closes #%d.\n", ev.SubjectID)
	if res.Answer != "" {
		b.WriteString("\n")
		b.WriteString(res.Answer)
		b.WriteString("\n")
	}
	if len(res.FilesModified) > 0 {
		b.WriteString("\nModified files:\n")
		for _, f := range res.FilesModified {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
