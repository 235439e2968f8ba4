// Package runner drives one run of an external agent session to completion:
// stream consumption with a polling fallback, permission arbitration,
// progress throttling, a single run deadline, and result finalization.
//
// The runtime's push-style callbacks are re-expressed as one explicit loop
// over a pollable event source with a monotonic offset cursor, so streaming
// and polling share a single code path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/foremanhq/foreman/internal/agentapi"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/policy"
)

// TerminationReason says why a run ended.
type TerminationReason string

const (
	ReasonCompleted  TerminationReason = "completed"
	ReasonError      TerminationReason = "error"
	ReasonTimeout    TerminationReason = "timeout"
	ReasonTerminated TerminationReason = "terminated"
)

const (
	// DefaultTimeout bounds a whole run, not a single event.
	DefaultTimeout = 30 * time.Minute

	// DefaultProgressInterval throttles non-terminal progress updates.
	DefaultProgressInterval = 60 * time.Second

	// streamRetryDelay is the pause before re-attempting streaming after
	// the polling fallback drains.
	streamRetryDelay = 1 * time.Second

	// pollPageSize bounds one Events page during fallback.
	pollPageSize = 100

	// terminateTimeout bounds the best-effort termination request sent
	// after the run deadline fires.
	terminateTimeout = 10 * time.Second
)

// Request describes one run. The caller generates SessionID (unique per
// run) and owns WorkDir exclusively for the run's duration.
type Request struct {
	SessionID string
	Prompt    string
	WorkDir   string
	Agent     string
	AgentMode string

	PermissionMode   policy.Mode
	Timeout          time.Duration
	ProgressInterval time.Duration

	// IncludeToolCalls emits throttled progress updates for completed
	// tool calls, not just status transitions.
	IncludeToolCalls bool

	// DetectFileChanges queries the workspace when the agent reports no
	// modified files, to recover a list it failed to self-report.
	DetectFileChanges bool
}

// Result is the sole authoritative description of what happened. Runs that
// fail operationally still produce a Result; Run only returns an error for
// malformed requests.
type Result struct {
	Success       bool
	SessionID     string
	Reason        TerminationReason
	FilesModified []string
	Summary       string
	Answer        string
	Error         string

	// Rejections counts permission requests the policy denied during the
	// run. The run itself still continues past a rejection.
	Rejections int
}

// Update is one progress notification.
type Update struct {
	Kind    string // "status", "tool", "final"
	Message string
}

// Sink receives progress updates. Post failures are logged and never
// propagate into run failures.
type Sink interface {
	Post(ctx context.Context, u Update) error
}

// Inspector recovers workspace file changes for result reconciliation.
type Inspector interface {
	UncommittedPaths(ctx context.Context, dir string) ([]string, error)
	PathsChangedSinceUpstream(ctx context.Context, dir string) ([]string, error)
}

// Runner executes agent runs. One Runner is shared across concurrent runs;
// all mutable state lives in the per-run runState.
type Runner struct {
	rt        agentapi.Runtime
	inspector Inspector        // optional
	sink      Sink             // optional
	metrics   *metrics.Metrics // optional
}

// New creates a Runner. inspector, sink, and m may be nil.
func New(rt agentapi.Runtime, inspector Inspector, sink Sink, m *metrics.Metrics) *Runner {
	return &Runner{rt: rt, inspector: inspector, sink: sink, metrics: m}
}

// runState is the mutable state of one run. Owned exclusively by the run's
// goroutine; nothing reads it concurrently.
type runState struct {
	req Request

	// offset counts consumed events so polling resumes without
	// re-processing. Monotonic.
	offset int

	files   []string
	fileSet map[string]bool

	answer string

	sawCompleted bool
	sawFailed    bool
	ended        bool
	endReason    string
	timedOut     bool

	rejections int
	throttle   *throttle
	fatalErr   error
}

func (st *runState) terminal() bool {
	return st.ended || st.sawFailed
}

// Run drives the session to a terminal state and finalizes a Result. The
// returned error is non-nil only for an invalid request; every operational
// failure, including session-creation failure, is reported in the Result.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		return nil, errors.New("runner: request needs a session ID")
	}
	if req.Prompt == "" {
		return nil, errors.New("runner: request needs a prompt")
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.ProgressInterval <= 0 {
		req.ProgressInterval = DefaultProgressInterval
	}

	st := &runState{
		req:      req,
		fileSet:  make(map[string]bool),
		throttle: newThrottle(req.ProgressInterval),
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	err := r.rt.CreateSession(runCtx, req.SessionID, agentapi.SessionOptions{
		Agent:          req.Agent,
		AgentMode:      req.AgentMode,
		PermissionMode: string(req.PermissionMode),
		WorkDir:        req.WorkDir,
	})
	if err != nil {
		st.fatalErr = fmt.Errorf("create session: %w", err)
		return r.finalize(ctx, st), nil
	}

	if err := r.consume(runCtx, st); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The run deadline fired, not the caller's context. Stop the
			// agent best-effort; a failed termination request is logged
			// but never fails the run.
			st.timedOut = true
			r.terminateOnce(st.req.SessionID)
		} else {
			st.fatalErr = err
		}
	}

	return r.finalize(ctx, st), nil
}

// consume runs the Streaming⇄Polling loop until a terminal condition, the
// stream closing cleanly, or a fatal error.
func (r *Runner) consume(ctx context.Context, st *runState) error {
	for !st.terminal() {
		stream, err := r.rt.StreamTurn(ctx, st.req.SessionID, st.req.Prompt)
		if err == nil {
			err = r.drainStream(ctx, st, stream)
			stream.Close()
			if err == nil {
				// Stream closed cleanly; whatever latches were set decide
				// the outcome.
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !agentapi.IsTransient(err) {
			return err
		}
		log.Printf("[Runner] session %s: stream interrupted at offset %d, polling: %v",
			st.req.SessionID, st.offset, err)
		if r.metrics != nil {
			r.metrics.StreamFallbacks.Inc()
		}

		if err := r.poll(ctx, st); err != nil {
			return err
		}
		if st.terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(streamRetryDelay):
		}
	}
	return nil
}

func (r *Runner) drainStream(ctx context.Context, st *runState, stream agentapi.EventStream) error {
	for {
		ev, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		r.handleEvent(ctx, st, ev, "stream")
		if st.terminal() {
			return nil
		}
	}
}

// poll pages the session's event log from the current offset until a
// terminal condition or no further events. A transient poll error returns
// control to the streaming retry; only non-transient errors are fatal.
func (r *Runner) poll(ctx context.Context, st *runState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, hasMore, err := r.rt.Events(ctx, st.req.SessionID, st.offset, pollPageSize)
		if err != nil {
			if agentapi.IsTransient(err) {
				return nil
			}
			return err
		}
		for _, ev := range events {
			r.handleEvent(ctx, st, ev, "poll")
			if st.terminal() {
				return nil
			}
		}
		if !hasMore || len(events) == 0 {
			return nil
		}
	}
}

func (r *Runner) handleEvent(ctx context.Context, st *runState, ev agentapi.Event, source string) {
	st.offset++
	if r.metrics != nil {
		r.metrics.RunEventsTotal.WithLabelValues(string(ev.Type), source).Inc()
	}

	switch ev.Type {
	case agentapi.EventSessionStarted:
		r.postProgress(ctx, st, Update{Kind: "status", Message: "agent session started"}, true)

	case agentapi.EventItemCompleted:
		r.handleItem(ctx, st, ev.Item)

	case agentapi.EventPermissionRequested:
		r.arbitrate(ctx, st, ev)

	case agentapi.EventQuestionRequested:
		// The runner is non-interactive; never block waiting for a human.
		if r.metrics != nil {
			r.metrics.QuestionsRejected.Inc()
		}
		if err := r.rt.RejectQuestion(ctx, st.req.SessionID, ev.ActionID); err != nil {
			log.Printf("[Runner] session %s: reject question %s: %v", st.req.SessionID, ev.ActionID, err)
		}

	case agentapi.EventSessionEnded:
		st.ended = true
		st.endReason = ev.Reason
	}
}

func (r *Runner) handleItem(ctx context.Context, st *runState, item *agentapi.Item) {
	if item == nil {
		return
	}

	for _, fc := range item.FileChanges {
		if fc.Action != agentapi.FileWrite && fc.Action != agentapi.FilePatch {
			continue
		}
		if fc.Path == "" || st.fileSet[fc.Path] {
			continue
		}
		st.fileSet[fc.Path] = true
		st.files = append(st.files, fc.Path)
	}

	// Per-item status latches let the run finalize even when the session
	// never emits an explicit end event.
	switch item.Status {
	case "completed":
		st.sawCompleted = true
	case "failed":
		st.sawFailed = true
	}

	switch item.Type {
	case agentapi.ItemAssistantMessage:
		if item.Text != "" {
			// Last assistant message wins.
			st.answer = item.Text
		}
	case agentapi.ItemToolCall:
		if st.req.IncludeToolCalls {
			r.postProgress(ctx, st, Update{
				Kind:    "tool",
				Message: fmt.Sprintf("ran %s", item.Tool),
			}, false)
		}
	}
}

func (r *Runner) arbitrate(ctx context.Context, st *runState, ev agentapi.Event) {
	d := policy.Decide(policy.Request{
		ActionID: ev.ActionID,
		Tools:    ev.Tools,
		Command:  ev.Command,
	}, st.req.PermissionMode)

	reply := agentapi.ReplyOnce
	if d.Verdict == policy.Reject {
		reply = agentapi.ReplyReject
		st.rejections++
		// A rejection is a policy intervention; it must be visible even
		// though the run continues.
		log.Printf("[Runner] session %s: rejected action %s: %s", st.req.SessionID, ev.ActionID, d.Reason)
	}
	if err := r.rt.ReplyPermission(ctx, st.req.SessionID, ev.ActionID, reply); err != nil {
		log.Printf("[Runner] session %s: reply permission %s: %v", st.req.SessionID, ev.ActionID, err)
	}
}

// terminateOnce asks the runtime to stop the session after the deadline
// fired. Best-effort: failures are logged, never escalated.
func (r *Runner) terminateOnce(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := r.rt.TerminateSession(ctx, sessionID); err != nil {
		log.Printf("[Runner] session %s: termination request failed: %v", sessionID, err)
	}
}

func (r *Runner) finalize(ctx context.Context, st *runState) *Result {
	res := &Result{
		SessionID:     st.req.SessionID,
		FilesModified: st.files,
		Answer:        st.answer,
		Rejections:    st.rejections,
	}

	switch {
	case st.timedOut:
		res.Reason = ReasonTimeout
		res.Error = fmt.Sprintf("run exceeded %s deadline", st.req.Timeout)
	case st.fatalErr != nil:
		res.Reason = ReasonError
		res.Error = st.fatalErr.Error()
	case st.ended:
		switch st.endReason {
		case "completed":
			res.Success = true
			res.Reason = ReasonCompleted
		case "error":
			res.Reason = ReasonError
			res.Error = "agent session ended with an error"
		default:
			res.Reason = ReasonTerminated
		}
	case st.sawFailed:
		res.Reason = ReasonError
		res.Error = "agent reported a failed item"
	case st.sawCompleted:
		// A completed item with no subsequent activity counts as success
		// even without an explicit end event.
		res.Success = true
		res.Reason = ReasonCompleted
	default:
		res.Reason = ReasonTerminated
		res.Error = "event stream closed before the session ended"
	}

	r.reconcileFiles(st, res)

	res.Summary = summarize(res)
	r.postProgress(ctx, st, Update{Kind: "final", Message: res.Summary}, true)
	return res
}

// reconcileFiles fills in FilesModified from the workspace when the agent
// self-reported nothing. It never overrides a non-empty list.
func (r *Runner) reconcileFiles(st *runState, res *Result) {
	if !st.req.DetectFileChanges || len(res.FilesModified) > 0 || r.inspector == nil || st.req.WorkDir == "" {
		return
	}
	// The run context may already be dead; reconciliation gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	paths, err := r.inspector.UncommittedPaths(ctx, st.req.WorkDir)
	if err != nil {
		log.Printf("[Runner] session %s: uncommitted-path check failed: %v", st.req.SessionID, err)
		return
	}
	if len(paths) == 0 {
		paths, err = r.inspector.PathsChangedSinceUpstream(ctx, st.req.WorkDir)
		if err != nil {
			log.Printf("[Runner] session %s: upstream-diff check failed: %v", st.req.SessionID, err)
			return
		}
	}
	res.FilesModified = paths
}

// postProgress emits an update through the sink. force bypasses the
// throttle for the first status after session start and the terminal
// update; everything else is rate-limited to one per interval.
func (r *Runner) postProgress(ctx context.Context, st *runState, u Update, force bool) {
	if r.sink == nil {
		return
	}
	if !force && !st.throttle.allow() {
		return
	}
	if err := r.sink.Post(ctx, u); err != nil {
		log.Printf("[Runner] session %s: progress post failed: %v", st.req.SessionID, err)
	}
}

func summarize(res *Result) string {
	switch res.Reason {
	case ReasonCompleted:
		if n := len(res.FilesModified); n > 0 {
			return fmt.Sprintf("run completed, %d files modified", n)
		}
		return "run completed"
	case ReasonTimeout:
		return "run timed out"
	case ReasonError:
		return "run failed: " + res.Error
	default:
		return "run terminated before completion"
	}
}
