package orchestrator

import (
	"context"

	"github.com/foremanhq/foreman/internal/agentapi"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/runner"
)

// runnerExecutor adapts the runner package to RunExecutor, building one
// Runner per run so each run gets its own progress sink.
type runnerExecutor struct {
	rt        agentapi.Runtime
	inspector runner.Inspector
	metrics   *metrics.Metrics
}

// NewRunnerExecutor creates a RunExecutor backed by the given runtime.
// inspector and m may be nil.
func NewRunnerExecutor(rt agentapi.Runtime, inspector runner.Inspector, m *metrics.Metrics) RunExecutor {
	return &runnerExecutor{rt: rt, inspector: inspector, metrics: m}
}

func (e *runnerExecutor) Run(ctx context.Context, req runner.Request, sink runner.Sink) (*runner.Result, error) {
	return runner.New(e.rt, e.inspector, sink, e.metrics).Run(ctx, req)
}
