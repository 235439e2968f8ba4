// Package agentapi defines the boundary to the external agent runtime: the
// service that hosts long-running coding agent sessions. The runner treats
// it as an opaque asynchronous collaborator; reconnect policy beyond
// transient-error classification belongs to the runtime, not to us.
package agentapi

import "context"

// EventType enumerates the session events the runner consumes.
type EventType string

const (
	EventSessionStarted      EventType = "session.started"
	EventItemCompleted       EventType = "item.completed"
	EventPermissionRequested EventType = "permission.requested"
	EventQuestionRequested   EventType = "question.requested"
	EventSessionEnded        EventType = "session.ended"
)

// ItemType distinguishes completed items.
type ItemType string

const (
	ItemToolCall         ItemType = "tool_call"
	ItemAssistantMessage ItemType = "assistant_message"
)

// FileAction is what a tool call did to a file.
type FileAction string

const (
	FileWrite FileAction = "write"
	FilePatch FileAction = "patch"
)

// FileChange is one file-modification record inside a completed item.
type FileChange struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// Item is the payload of an item.completed event.
type Item struct {
	Type        ItemType     `json:"type"`
	Status      string       `json:"status"` // "completed" or "failed"
	Text        string       `json:"text,omitempty"`
	Tool        string       `json:"tool,omitempty"`
	FileChanges []FileChange `json:"file_changes,omitempty"`
}

// Event is one session event. Fields beyond Type are populated per kind:
// Item for item.completed; ActionID/Tools/Command for permission and
// question requests; Reason for session.ended.
type Event struct {
	Type     EventType `json:"type"`
	Item     *Item     `json:"item,omitempty"`
	ActionID string    `json:"action_id,omitempty"`
	Tools    []string  `json:"tools,omitempty"`
	Command  string    `json:"command,omitempty"`
	Reason   string    `json:"reason,omitempty"` // "completed", "error", "terminated"
}

// SessionOptions configure session creation.
type SessionOptions struct {
	Agent          string `json:"agent"`
	AgentMode      string `json:"agent_mode,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	WorkDir        string `json:"work_dir,omitempty"`
}

// PermissionReply is the runner's answer to a permission request.
type PermissionReply string

const (
	ReplyOnce   PermissionReply = "once"
	ReplyReject PermissionReply = "reject"
)

// EventStream yields live events from a submitted turn. Next blocks until
// an event arrives, the stream ends (io.EOF), or ctx is done. Close is
// idempotent.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Runtime is the agent-runtime service surface the runner drives.
type Runtime interface {
	// CreateSession registers a new session under the caller-chosen id.
	CreateSession(ctx context.Context, id string, opts SessionOptions) error

	// StreamTurn submits one turn (the prompt) and returns the live event
	// stream for its processing. Calling it again while that turn is
	// active re-attaches to the active turn's stream at its current
	// position instead of starting a new turn, which is what lets the
	// runner retry streaming after a transient failure.
	StreamTurn(ctx context.Context, id string, message string) (EventStream, error)

	// Events pages through a session's event log from offset, for resuming
	// after a broken stream. Returns the page and whether more remain.
	Events(ctx context.Context, id string, offset, limit int) ([]Event, bool, error)

	// ReplyPermission answers a permission.requested event.
	ReplyPermission(ctx context.Context, id, actionID string, reply PermissionReply) error

	// RejectQuestion declines a question.requested event.
	RejectQuestion(ctx context.Context, id, actionID string) error

	// TerminateSession asks the runtime to stop the session.
	TerminateSession(ctx context.Context, id string) error
}
