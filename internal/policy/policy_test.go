package policy

import "testing"

func TestDecide_DefaultGrantsEverything(t *testing.T) {
	reqs := []Request{
		{},
		{ActionID: "a1", Tools: []string{"bash"}, Command: "rm -rf /"},
		{Tools: []string{"github_add_issue_comment"}},
	}
	for _, req := range reqs {
		if d := Decide(req, ModeDefault); d.Verdict != GrantOnce {
			t.Errorf("default mode rejected %+v: %s", req, d.Reason)
		}
	}
}

func TestDecide_Totality(t *testing.T) {
	// Decide must return for every metadata shape without panicking.
	shapes := []Request{
		{},
		{Tools: nil, Command: ""},
		{Tools: []string{""}},
		{Tools: []string{"", "", ""}, Command: "   "},
		{ActionID: "x", Command: "\x00\xff"},
	}
	for _, mode := range []Mode{ModeDefault, ModeRestrictedReply, ModeReadOnlyReview, Mode("bogus"), Mode("")} {
		for _, req := range shapes {
			d := Decide(req, mode)
			if d.Verdict != GrantOnce && d.Verdict != Reject {
				t.Errorf("mode %q req %+v: verdict %q", mode, req, d.Verdict)
			}
		}
	}
}

func TestDecide_RestrictedReplyBlocksTrackerWrites(t *testing.T) {
	blocked := []Request{
		{Tools: []string{"github_add_issue_comment"}},
		{Tools: []string{"AddIssueComment"}},
		{Tools: []string{"create_comment"}},
		{Tools: []string{"post-comment"}},
		{Command: "gh issue comment 12 --body done"},
		{Command: "gh pr comment 7 --body lgtm"},
		{Command: `gh api repos/o/r/issues/3/comments -f body=hi`},
	}
	for _, req := range blocked {
		if d := Decide(req, ModeRestrictedReply); d.Verdict != Reject {
			t.Errorf("restricted-reply granted tracker write %+v", req)
		}
	}

	allowed := []Request{
		{Tools: []string{"read_file"}},
		{Tools: []string{"bash"}, Command: "git commit -m wip"},
		{Command: "gh issue view 12"},
		{},
	}
	for _, req := range allowed {
		if d := Decide(req, ModeRestrictedReply); d.Verdict != GrantOnce {
			t.Errorf("restricted-reply rejected benign request %+v: %s", req, d.Reason)
		}
	}
}

func TestDecide_ReadOnlyReviewDenyList(t *testing.T) {
	blocked := []string{
		"git commit -m done",
		"git push origin main",
		"git merge feature",
		"git rebase main",
		"git reset --hard HEAD~1",
		"git checkout -b scratch",
		"git cherry-pick abc123",
		"git apply fix.patch",
		"rm -rf build",
		"mv a b",
		"cp src dst",
		"chmod +x run.sh",
		"chown user file",
		"ln -s a b",
		"echo hacked > main.go",
		"cat notes >> log.txt",
		"npm install left-pad",
		"yarn add lodash",
		"pip install requests",
		"pip3 install requests",
		"go install example.com/tool@latest",
		"apt-get install jq",
		"brew install ripgrep",
		"cargo install bat",
		"true; rm -rf .",
		"ls | rm file",
	}
	for _, cmd := range blocked {
		d := Decide(Request{Tools: []string{"bash"}, Command: cmd}, ModeReadOnlyReview)
		if d.Verdict != Reject {
			t.Errorf("read-only-review granted %q", cmd)
		}
	}

	allowed := []string{
		"git diff main...HEAD",
		"git log --oneline -20",
		"grep -rn TODO .",
		"go vet ./...",
		"cat README.md",
		"",
	}
	for _, cmd := range allowed {
		d := Decide(Request{Tools: []string{"bash"}, Command: cmd}, ModeReadOnlyReview)
		if d.Verdict != GrantOnce {
			t.Errorf("read-only-review rejected read command %q: %s", cmd, d.Reason)
		}
	}
}

func TestDecide_ReadOnlyReviewAlsoBlocksTrackerWrites(t *testing.T) {
	d := Decide(Request{Tools: []string{"update_comment"}}, ModeReadOnlyReview)
	if d.Verdict != Reject {
		t.Error("read-only-review must inherit restricted-reply's denials")
	}
}

func TestDecide_RejectionCarriesReason(t *testing.T) {
	d := Decide(Request{Command: "git push"}, ModeReadOnlyReview)
	if d.Verdict != Reject {
		t.Fatal("expected rejection")
	}
	if d.Reason == "" {
		t.Error("rejection should explain which rule fired")
	}
}
