// Package github wraps the gh CLI to provide GitHub API access without
// additional dependencies. The gh binary handles OAuth token refresh,
// rate limiting, pagination, and outputs parseable JSON via --json flags.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Client wraps gh CLI commands for GitHub operations.
// workDir should be a checkout of the repository so gh can auto-detect it.
type Client struct {
	workDir string
	token   string // optional; if empty, gh uses its stored credentials
}

// NewClient creates a GitHub client rooted at workDir.
func NewClient(workDir, token string) *Client {
	return &Client{workDir: workDir, token: token}
}

// gh runs a gh CLI command and returns raw output.
func (c *Client) gh(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = c.workDir
	if c.token != "" {
		cmd.Env = append(cmd.Environ(), "GH_TOKEN="+c.token)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("gh %s: %w\n%s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

// GetRepoInfo returns basic information about the current repository.
func (c *Client) GetRepoInfo(ctx context.Context) (*RepoInfo, error) {
	type ghRepo struct {
		NameWithOwner    string `json:"nameWithOwner"`
		DefaultBranchRef struct {
			Name string `json:"name"`
		} `json:"defaultBranchRef"`
		URL       string `json:"url"`
		IsPrivate bool   `json:"isPrivate"`
	}
	out, err := c.gh(ctx, "repo", "view", "--json", "nameWithOwner,defaultBranchRef,url,isPrivate")
	if err != nil {
		return nil, err
	}
	var r ghRepo
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("parse repo view: %w", err)
	}
	return &RepoInfo{
		NameWithOwner: r.NameWithOwner,
		DefaultBranch: r.DefaultBranchRef.Name,
		URL:           r.URL,
		IsPrivate:     r.IsPrivate,
	}, nil
}

// GetIssue returns a single issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	out, err := c.gh(ctx, "issue", "view", fmt.Sprintf("%d", number),
		"--json", "number,title,body,state,url,author,labels")
	if err != nil {
		return nil, err
	}
	type ghIssue struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		URL    string `json:"url"`
		Author struct {
			Login string `json:"login"`
		} `json:"author"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	var r ghIssue
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("parse issue view: %w", err)
	}
	labels := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		labels = append(labels, l.Name)
	}
	return &Issue{
		Number: r.Number,
		Title:  r.Title,
		Body:   r.Body,
		State:  r.State,
		URL:    r.URL,
		Author: r.Author.Login,
		Labels: labels,
	}, nil
}

// ListLabels returns the repository's labels with their numeric IDs. Uses
// the REST endpoint because `gh label list` only exposes GraphQL node IDs.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	out, err := c.gh(ctx, "api", "repos/{owner}/{repo}/labels", "--paginate")
	if err != nil {
		return nil, err
	}
	var labels []Label
	if err := json.Unmarshal(out, &labels); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	return labels, nil
}

// CommentOnIssue adds a comment to an issue.
func (c *Client) CommentOnIssue(ctx context.Context, number int, body string) error {
	_, err := c.gh(ctx, "issue", "comment", fmt.Sprintf("%d", number), "--body", body)
	return err
}

// CreatePR creates a pull request and returns it.
func (c *Client) CreatePR(ctx context.Context, req CreatePRRequest) (*PullRequest, error) {
	base := req.Base
	if base == "" {
		base = "main"
	}
	args := []string{"pr", "create",
		"--title", req.Title,
		"--body", req.Body,
		"--base", base,
	}
	if req.Head != "" {
		args = append(args, "--head", req.Head)
	}
	if req.Draft {
		args = append(args, "--draft")
	}
	out, err := c.gh(ctx, args...)
	if err != nil {
		return nil, err
	}
	// pr create prints the new PR's URL on the last line.
	lines := strings.Fields(strings.TrimSpace(string(out)))
	pr := &PullRequest{Title: req.Title, State: "open", HeadRef: req.Head, BaseRef: base}
	if len(lines) > 0 {
		pr.URL = lines[len(lines)-1]
	}
	return pr, nil
}
