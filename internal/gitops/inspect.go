package gitops

import (
	"context"
	"strings"
)

// Inspector reports which files changed in a workspace. It backs the
// runner's result reconciliation when the agent fails to self-report the
// files it touched.
type Inspector struct {
	m *Manager
}

// NewInspector creates an inspector sharing the manager's git plumbing.
func NewInspector(m *Manager) *Inspector {
	return &Inspector{m: m}
}

// UncommittedPaths returns paths with uncommitted changes (staged,
// unstaged, or untracked) in dir.
func (i *Inspector) UncommittedPaths(ctx context.Context, dir string) ([]string, error) {
	out, err := i.m.runGitOutput(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelainStatus(out), nil
}

// PathsChangedSinceUpstream returns paths that differ between HEAD and the
// default upstream branch. Used when the agent committed its work, so the
// working tree looks clean.
func (i *Inspector) PathsChangedSinceUpstream(ctx context.Context, dir string) ([]string, error) {
	branch, err := i.m.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	out, err := i.m.runGitOutput(ctx, dir, "diff", "--name-only", "origin/"+branch+"...HEAD")
	if err != nil {
		return nil, err
	}
	return splitPathLines(out), nil
}

// parsePorcelainStatus extracts paths from `git status --porcelain`
// output. Renames report the new path.
func parsePorcelainStatus(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// "R  old -> new" keeps only the destination.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

func splitPathLines(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}
