package github

// Issue represents a GitHub issue.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
	URL    string
	Author string
	Labels []string
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Number  int
	Title   string
	Body    string
	State   string
	URL     string
	HeadRef string
	BaseRef string
}

// CreatePRRequest holds parameters for creating a pull request.
type CreatePRRequest struct {
	Title string
	Body  string
	Base  string
	Head  string
	Draft bool
}

// RepoInfo represents basic information about a GitHub repository.
type RepoInfo struct {
	NameWithOwner string
	DefaultBranch string
	URL           string
	IsPrivate     bool
}

// Label is a repository label with its numeric REST API ID.
type Label struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
