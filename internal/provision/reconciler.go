package provision

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// inflightSet tracks resource keys with an active background
// reconciler so the same agent is never polled by two goroutines.
type inflightSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{keys: make(map[string]struct{})}
}

// claim reserves a key. Returns false when already claimed.
func (s *inflightSet) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.keys[key]; busy {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *inflightSet) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// StartBackgroundReconciliation polls an agent's deployment in the
// background until it reaches a terminal state or the reconciliation
// budget elapses. A no-op when a reconciler for the same key is
// already running. The goroutine deliberately runs off a fresh
// context: it must outlive the request that triggered it.
func (o *Orchestrator) StartBackgroundReconciliation(agent *Agent) {
	if !o.inflight.claim(agent.Key) {
		o.logger.Debug("reconciler already running",
			slog.String("key", agent.Key),
			slog.String("agent_id", agent.ProviderID),
		)
		return
	}
	if o.metrics != nil {
		o.metrics.ActiveReconcilers.Inc()
	}
	go o.reconcile(agent.clone())
}

func (o *Orchestrator) reconcile(agent *Agent) {
	defer func() {
		o.inflight.release(agent.Key)
		if o.metrics != nil {
			o.metrics.ActiveReconcilers.Dec()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.reconcileBudget())
	defer cancel()

	logger := o.logger.With(
		slog.String("key", agent.Key),
		slog.String("agent_id", agent.ProviderID),
	)
	logger.Debug("background reconciliation started")

	for {
		pa, err := o.provider.GetAgent(ctx, agent.ProviderID)
		if err != nil {
			if ctx.Err() != nil {
				o.finishReconcile(agent, logger, "timeout")
				return
			}
			logger.Warn("reconcile poll failed", slog.String("error", err.Error()))
		} else {
			agent.applyDeployment(pa)

			if agent.DeploymentStatus.Failed() {
				o.finishReconcile(agent, logger, "failed")
				return
			}
			if agent.DeploymentStatus == StatusRunning && agent.Ready() {
				if err := o.deferredLink(ctx, agent); err != nil {
					logger.Warn("deferred linking incomplete",
						slog.String("error", err.Error()),
					)
				}
				o.finishReconcile(agent, logger, "running")
				return
			}
		}

		select {
		case <-ctx.Done():
			o.finishReconcile(agent, logger, "timeout")
			return
		case <-time.After(o.cfg.pollInterval()):
		}
	}
}

// finishReconcile persists the agent's last-known state and records
// the outcome. Persisting on timeout too keeps the store truthful: a
// later request resumes from wherever the deployment actually is.
func (o *Orchestrator) finishReconcile(agent *Agent, logger *slog.Logger, outcome string) {
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.persistAgent(persistCtx, agent)

	o.metrics.reconcilerRun(outcome)
	switch outcome {
	case "running":
		logger.Info("background reconciliation completed",
			slog.String("url", agent.DeploymentURL),
		)
	case "failed":
		logger.Warn("deployment reached a failure state",
			slog.String("status", string(agent.DeploymentStatus)),
		)
	default:
		logger.Warn("reconciliation budget exhausted",
			slog.String("status", string(agent.DeploymentStatus)),
		)
	}
}
