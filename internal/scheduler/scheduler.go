// Package scheduler runs the periodic reconciliation sweep.
// Agents can be stranded mid-deployment by a crash, a restart, or an
// exhausted reconciliation budget; the sweep finds every persisted
// agent that is neither reachable nor terminal and hands it back to
// the background reconciler.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/msaidizi/internal/config"
	"github.com/jkaninda/msaidizi/internal/provision"
)

// Reconciler resumes deployment reconciliation for an agent.
// Implemented by provision.Orchestrator.
type Reconciler interface {
	StartBackgroundReconciliation(agent *provision.Agent)
}

// Sweeper schedules reconciliation sweeps with a cron spec.
type Sweeper struct {
	agents     provision.AgentStore
	reconciler Reconciler
	metrics    *Metrics
	logger     *slog.Logger
	cfg        *config.SchedulerConfig

	cron *cron.Cron
}

// New creates a Sweeper.
func New(agents provision.AgentStore, reconciler Reconciler, metrics *Metrics, logger *slog.Logger, cfg *config.SchedulerConfig) *Sweeper {
	return &Sweeper{
		agents:     agents,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		cron:       cron.New(),
	}
}

// Start registers the sweep on its cron spec and runs one sweep
// immediately to recover agents stranded across the last restart.
// Returns a stop function that waits for a running sweep to finish.
func (s *Sweeper) Start(ctx context.Context) (func(), error) {
	spec := s.cfg.SweepSpec()
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "reconciliation sweep scheduled",
		slog.String("spec", spec),
	)

	// Startup recovery pass before the first scheduled run.
	s.Sweep(ctx)

	s.cron.Start()
	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("reconciliation sweep stopped")
	}, nil
}

// Sweep runs one pass: every pending agent is handed to the
// reconciler. Agents already being reconciled are deduplicated by the
// reconciler itself, so overlapping sweeps are harmless.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()

	pending, err := s.agents.ListPending(ctx)
	if err != nil {
		s.logger.Warn("listing pending agents", slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return
	}

	for i := range pending {
		s.reconciler.StartBackgroundReconciliation(&pending[i])
	}

	if s.metrics != nil {
		s.metrics.Sweeps.Inc()
		s.metrics.AgentsResumed.Add(float64(len(pending)))
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	if len(pending) > 0 {
		s.logger.InfoContext(ctx, "reconciliation sweep resumed agents",
			slog.Int("count", len(pending)),
		)
	}
}
