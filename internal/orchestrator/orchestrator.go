// Package orchestrator connects the pieces: deduplicated change events go
// through rule dispatch, matched events become bounded concurrent agent
// runs, and run outcomes land back on the tracker and the lifecycle bus.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/foremanhq/foreman/internal/dedup"
	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/github"
	"github.com/foremanhq/foreman/internal/messagebus"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/policy"
	"github.com/foremanhq/foreman/internal/runner"
	"github.com/foremanhq/foreman/internal/telemetry"
)

// Tracker is the issue-tracker surface the orchestrator needs.
type Tracker interface {
	GetIssue(ctx context.Context, number int) (*github.Issue, error)
	CommentOnIssue(ctx context.Context, number int, body string) error
	CreatePR(ctx context.Context, req github.CreatePRRequest) (*github.PullRequest, error)
}

// Workspaces provisions and publishes per-run git worktrees.
type Workspaces interface {
	SetupRunWorktree(ctx context.Context, runID, baseBranch string) (string, string, error)
	CleanupRunWorktree(ctx context.Context, runID string) error
	CommitAll(ctx context.Context, dir, message string) (bool, error)
	PushBranch(ctx context.Context, dir, branch string) error
}

// RunExecutor runs one agent session. The sink receives that run's progress.
type RunExecutor interface {
	Run(ctx context.Context, req runner.Request, sink runner.Sink) (*runner.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	Engine   *dispatch.Engine
	Guard    dedup.Guard
	Executor RunExecutor
	Tracker  Tracker

	// Workspaces may be nil; implement and publish runs then execute
	// without an isolated worktree and skip the PR step.
	Workspaces Workspaces

	Bus     messagebus.RunEventPublisher // nil means no lifecycle events
	Metrics *metrics.Metrics

	BaseBranch       string
	RunTimeout       time.Duration
	ProgressInterval time.Duration
	MaxConcurrent    int
}

// Orchestrator is safe for concurrent HandleEvent calls.
type Orchestrator struct {
	opts Options
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Bus == nil {
		opts.Bus = messagebus.NoopBus{}
	}
	return &Orchestrator{
		opts: opts,
		sem:  make(chan struct{}, opts.MaxConcurrent),
	}
}

// HandleEvent takes one normalized change event through dedup and dispatch,
// and launches a run when a rule matches. It returns as soon as the run is
// queued; run outcomes are reported to the tracker, not the caller.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *event.ChangeEvent) {
	dispatchStart := time.Now()
	telemetry.DeliveriesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_kind", string(ev.Kind))))
	if m := o.opts.Metrics; m != nil {
		m.DeliveriesTotal.WithLabelValues(string(ev.Kind), string(ev.Operation)).Inc()
	}

	if o.opts.Guard != nil && o.opts.Guard.Seen(ev.DedupKey()) {
		log.Printf("[Orchestrator] duplicate delivery %s suppressed", ev.DedupKey())
		if m := o.opts.Metrics; m != nil {
			m.DedupHitsTotal.WithLabelValues(string(ev.Kind)).Inc()
		}
		return
	}

	d := o.opts.Engine.Dispatch(ev)
	if d == nil {
		if m := o.opts.Metrics; m != nil {
			m.DispatchMisses.Inc()
		}
		return
	}

	log.Printf("[Orchestrator] rule %q matched issue #%d (action=%s)", d.Rule.Name, ev.SubjectID, d.Action)
	if m := o.opts.Metrics; m != nil {
		m.RecordDispatch(d.Rule.Name, string(d.Action))
	}
	telemetry.DispatchLatency.Record(ctx, float64(time.Since(dispatchStart).Microseconds())/1000,
		metric.WithAttributes(attribute.String("rule", d.Rule.Name)))

	// The run outlives the inbound request, but its trace should not:
	// carry the span link, not the request context.
	link := trace.LinkFromContext(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
		o.execute(ev, d, link)
	}()
}

// Wait blocks until all in-flight runs finish. Used during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// execute owns one run end to end. It runs on its own goroutine with its
// own context; the inbound HTTP request is long gone by the time an agent
// run finishes.
func (o *Orchestrator) execute(ev *event.ChangeEvent, d *dispatch.Decision, link trace.Link) {
	runID := uuid.New().String()
	started := time.Now()

	timeout := o.opts.RunTimeout
	if timeout <= 0 {
		timeout = runner.DefaultTimeout
	}
	// Headroom beyond the run deadline for worktree setup and PR creation.
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Minute)
	defer cancel()

	ctx, span := telemetry.Tracer.Start(ctx, "run",
		trace.WithLinks(link),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("rule", d.Rule.Name),
			attribute.String("action", string(d.Action)),
			attribute.Int("issue", ev.SubjectID),
		))
	defer span.End()

	o.publish(ctx, runID, ev, d, "started", "")
	actionAttr := metric.WithAttributes(attribute.String("action", string(d.Action)))
	telemetry.RunsStarted.Add(ctx, 1, actionAttr)
	telemetry.RunsActive.Add(ctx, 1)
	defer telemetry.RunsActive.Add(ctx, -1)
	if m := o.opts.Metrics; m != nil {
		m.RunsActive.Inc()
		defer m.RunsActive.Dec()
	}

	issue, err := o.opts.Tracker.GetIssue(ctx, ev.SubjectID)
	if err != nil {
		// The event itself carries enough for a degraded prompt.
		log.Printf("[Orchestrator] run %s: fetching issue #%d failed: %v", runID, ev.SubjectID, err)
	}

	var workDir, branch string
	needsWorktree := d.Action == dispatch.ActionImplement || d.Action == dispatch.ActionPublish
	if needsWorktree && o.opts.Workspaces != nil {
		workDir, branch, err = o.opts.Workspaces.SetupRunWorktree(ctx, runID, o.opts.BaseBranch)
		if err != nil {
			log.Printf("[Orchestrator] run %s: worktree setup failed: %v", runID, err)
			o.comment(ctx, ev.SubjectID, fmt.Sprintf("Could not start a workspace for this run: %v", err))
			o.finishRun(ctx, runID, ev, d, "failed", "", started)
			return
		}
		defer func() {
			if err := o.opts.Workspaces.CleanupRunWorktree(context.Background(), runID); err != nil {
				log.Printf("[Orchestrator] run %s: worktree cleanup failed: %v", runID, err)
			}
		}()
	}

	req := runner.Request{
		SessionID:         runID,
		Prompt:            buildPrompt(d, ev, issue),
		WorkDir:           workDir,
		Agent:             d.Rule.Agent,
		PermissionMode:    permissionModeFor(d.Action),
		Timeout:           timeout,
		ProgressInterval:  o.opts.ProgressInterval,
		IncludeToolCalls:  true,
		DetectFileChanges: needsWorktree,
	}

	res, err := o.opts.Executor.Run(ctx, req, &issueSink{tracker: o.opts.Tracker, issue: ev.SubjectID})
	if err != nil {
		log.Printf("[Orchestrator] run %s: invalid run request: %v", runID, err)
		o.finishRun(ctx, runID, ev, d, "failed", "", started)
		return
	}

	if res.Rejections > 0 {
		o.publish(ctx, runID, ev, d, "permission_rejected", "")
		if m := o.opts.Metrics; m != nil {
			m.RecordPermission(string(req.PermissionMode), string(policy.Reject), res.Rejections)
		}
	}

	o.deliver(ctx, runID, ev, d, res, workDir, branch, issue)
	o.finishRun(ctx, runID, ev, d, statusFor(res), res.Answer, started)
}

// deliver reports the run outcome back to the tracker: an answer comment
// for conversational actions, a pull request for workspace actions.
func (o *Orchestrator) deliver(ctx context.Context, runID string, ev *event.ChangeEvent, d *dispatch.Decision, res *runner.Result, workDir, branch string, issue *github.Issue) {
	switch d.Action {
	case dispatch.ActionReply, dispatch.ActionReview:
		body := res.Answer
		if body == "" {
			body = res.Summary
		}
		o.comment(ctx, ev.SubjectID, body)

	case dispatch.ActionImplement, dispatch.ActionPublish:
		if !res.Success || branch == "" {
			o.comment(ctx, ev.SubjectID, res.Summary)
			return
		}
		committed, err := o.opts.Workspaces.CommitAll(ctx, workDir, commitMessage(ev, issue))
		if err != nil {
			log.Printf("[Orchestrator] run %s: commit failed: %v", runID, err)
			o.comment(ctx, ev.SubjectID, fmt.Sprintf("Run finished but committing the changes failed: %v", err))
			return
		}
		if !committed {
			o.comment(ctx, ev.SubjectID, "Run finished without any file changes to publish.")
			return
		}
		if err := o.opts.Workspaces.PushBranch(ctx, workDir, branch); err != nil {
			log.Printf("[Orchestrator] run %s: push failed: %v", runID, err)
			o.comment(ctx, ev.SubjectID, fmt.Sprintf("Run finished but pushing %s failed: %v", branch, err))
			return
		}
		pr, err := o.opts.Tracker.CreatePR(ctx, github.CreatePRRequest{
			Title: prTitle(ev, issue),
			Body:  prBody(ev, res),
			Base:  o.opts.BaseBranch,
			Head:  branch,
			Draft: d.Action == dispatch.ActionImplement,
		})
		if err != nil {
			log.Printf("[Orchestrator] run %s: PR creation failed: %v", runID, err)
			o.comment(ctx, ev.SubjectID, fmt.Sprintf("Changes pushed to %s but opening a pull request failed: %v", branch, err))
			return
		}
		o.comment(ctx, ev.SubjectID, fmt.Sprintf("Opened %s for this issue.", pr.URL))
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, runID string, ev *event.ChangeEvent, d *dispatch.Decision, status, answer string, started time.Time) {
	o.publish(ctx, runID, ev, d, status, answer)
	elapsed := time.Since(started)
	statusAttr := metric.WithAttributes(
		attribute.String("action", string(d.Action)),
		attribute.String("status", status),
	)
	telemetry.RunsCompleted.Add(ctx, 1, statusAttr)
	telemetry.RunDuration.Record(ctx, float64(elapsed.Milliseconds()), statusAttr)
	if m := o.opts.Metrics; m != nil {
		m.RecordRun(string(d.Action), status, elapsed.Seconds())
	}
}

func (o *Orchestrator) publish(ctx context.Context, runID string, ev *event.ChangeEvent, d *dispatch.Decision, status, answer string) {
	err := o.opts.Bus.PublishRunEvent(ctx, &messagebus.RunEvent{
		RunID:     runID,
		SubjectID: ev.SubjectID,
		Rule:      d.Rule.Name,
		Action:    string(d.Action),
		Status:    status,
		Answer:    answer,
	})
	if err != nil {
		log.Printf("[Orchestrator] run %s: publishing %s event failed: %v", runID, status, err)
	}
	if m := o.opts.Metrics; m != nil {
		m.EventsPublished.WithLabelValues("foreman.runs." + status).Inc()
	}
}

func (o *Orchestrator) comment(ctx context.Context, issue int, body string) {
	if body == "" {
		return
	}
	if err := o.opts.Tracker.CommentOnIssue(ctx, issue, body); err != nil {
		log.Printf("[Orchestrator] comment on #%d failed: %v", issue, err)
	}
}

// permissionModeFor maps a rule action to the policy mode its runs get.
// Conversational actions never touch the tracker or the tree themselves;
// the orchestrator posts on their behalf.
func permissionModeFor(a dispatch.Action) policy.Mode {
	switch a {
	case dispatch.ActionReply:
		return policy.ModeRestrictedReply
	case dispatch.ActionReview:
		return policy.ModeReadOnlyReview
	default:
		return policy.ModeDefault
	}
}

func statusFor(res *runner.Result) string {
	switch res.Reason {
	case runner.ReasonCompleted:
		return "succeeded"
	case runner.ReasonTimeout:
		return "timed_out"
	case runner.ReasonTerminated:
		return "terminated"
	default:
		return "failed"
	}
}

// issueSink posts run progress as issue comments.
type issueSink struct {
	tracker Tracker
	issue   int
}

func (s *issueSink) Post(ctx context.Context, u runner.Update) error {
	return s.tracker.CommentOnIssue(ctx, s.issue, u.Message)
}
