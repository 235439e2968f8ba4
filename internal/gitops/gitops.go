// Package gitops provisions isolated per-run workspaces and inspects them
// for changes the agent made. Every run gets its own worktree off the base
// checkout so concurrent runs never share a working directory.
package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Manager handles git operations under a base repository checkout.
type Manager struct {
	repoDir       string // the long-lived clone runs branch from
	worktreesRoot string // where per-run worktrees are created
}

// NewManager creates a manager for the repository at repoDir, placing run
// worktrees under worktreesRoot.
func NewManager(repoDir, worktreesRoot string) (*Manager, error) {
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err != nil {
		return nil, fmt.Errorf("%s is not a git checkout: %w", repoDir, err)
	}
	if err := os.MkdirAll(worktreesRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees root: %w", err)
	}
	return &Manager{repoDir: repoDir, worktreesRoot: worktreesRoot}, nil
}

// RepoDir returns the base checkout path.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// SetupRunWorktree creates an isolated worktree for one run, on a fresh
// branch named after the run, based on baseBranch. Returns the worktree
// path and branch name.
func (m *Manager) SetupRunWorktree(ctx context.Context, runID, baseBranch string) (string, string, error) {
	if baseBranch == "" {
		var err error
		baseBranch, err = m.DefaultBranch(ctx)
		if err != nil {
			return "", "", err
		}
	}

	// Fetch so the new branch starts from the remote's tip, not a stale
	// local ref.
	if err := m.runGit(ctx, m.repoDir, "fetch", "origin", baseBranch); err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", baseBranch, err)
	}

	branch := "foreman/" + runID
	path := filepath.Join(m.worktreesRoot, runID)
	if err := m.runGit(ctx, m.repoDir, "worktree", "add", "-b", branch, path, "origin/"+baseBranch); err != nil {
		return "", "", fmt.Errorf("worktree add: %w", err)
	}
	return path, branch, nil
}

// CleanupRunWorktree removes a run's worktree and branch. Safe to call on
// an already-removed worktree.
func (m *Manager) CleanupRunWorktree(ctx context.Context, runID string) error {
	path := filepath.Join(m.worktreesRoot, runID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := m.runGit(ctx, m.repoDir, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("worktree remove: %w", err)
	}
	// Branch deletion is cosmetic cleanup; a push may have made the
	// branch the PR head, in which case -D on the local ref is still fine.
	_ = m.runGit(ctx, m.repoDir, "branch", "-D", "foreman/"+runID)
	return nil
}

// CommitAll stages and commits everything in the worktree. Returns false
// when there was nothing to commit.
func (m *Manager) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	if err := m.runGit(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}
	out, err := m.runGitOutput(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(out) == "" {
		return false, nil
	}
	if err := m.runGit(ctx, dir, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit: %w", err)
	}
	return true, nil
}

// PushBranch pushes the worktree's current branch to origin.
func (m *Manager) PushBranch(ctx context.Context, dir, branch string) error {
	if err := m.runGit(ctx, dir, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// DefaultBranch resolves origin's HEAD branch name, falling back to "main".
func (m *Manager) DefaultBranch(ctx context.Context) (string, error) {
	out, err := m.runGitOutput(ctx, m.repoDir, "symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	if err != nil {
		return "main", nil
	}
	// Output looks like "origin/main".
	ref := strings.TrimSpace(out)
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		return ref[i+1:], nil
	}
	return ref, nil
}

func (m *Manager) runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, string(output))
	}
	return nil
}

func (m *Manager) runGitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(output), nil
}
