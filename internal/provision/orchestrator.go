package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jkaninda/msaidizi/internal/resourcekey"
)

// Config tunes the orchestrator's polling behavior. Zero values fall
// back to the defaults below.
type Config struct {
	PollInterval    time.Duration // Interval between deployment polls. Default: 5s.
	WaitCeiling     time.Duration // Wall-clock budget for synchronous waits. Default: 30s.
	ReconcileBudget time.Duration // Wall-clock budget for background reconciliation. Default: 180s.
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 5 * time.Second
}

func (c Config) waitCeiling() time.Duration {
	if c.WaitCeiling > 0 {
		return c.WaitCeiling
	}
	return 30 * time.Second
}

func (c Config) reconcileBudget() time.Duration {
	if c.ReconcileBudget > 0 {
		return c.ReconcileBudget
	}
	return 180 * time.Second
}

// Orchestrator implements get-or-create-or-continue provisioning for
// knowledge bases and support agents. One agent exists per resource
// key (website) and is shared by every end-user session.
//
// Lookup order is cache, then durable store, then provider creation.
// Creation per key is coalesced in-process with singleflight, so
// concurrent cold-cache requests for the same website issue at most
// one provider creation call per process. Cross-process duplicates
// remain possible and are tolerated: the provider does not forbid
// them and they are rare.
type Orchestrator struct {
	provider Provider
	stores   Stores
	cache    *Cache
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics // nil = metrics disabled

	kbFlight    singleflight.Group
	agentFlight singleflight.Group

	inflight *inflightSet // keys with a background reconciler running
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(provider Provider, stores Stores, cache *Cache, cfg Config, logger *slog.Logger, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		stores:   stores,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		inflight: newInflightSet(),
	}
}

// WarmCache loads all persisted knowledge base and agent records into
// the in-process cache. Called once at startup; the durable store is
// authoritative after a restart.
func (o *Orchestrator) WarmCache(ctx context.Context) error {
	kbs, err := o.stores.KnowledgeBases.List(ctx)
	if err != nil {
		return fmt.Errorf("warming knowledge base cache: %w", err)
	}
	for i := range kbs {
		o.cache.PutKnowledgeBase(&kbs[i])
	}

	agents, err := o.stores.Agents.List(ctx)
	if err != nil {
		return fmt.Errorf("warming agent cache: %w", err)
	}
	for i := range agents {
		o.cache.PutAgent(&agents[i])
	}

	o.logger.Info("resource cache warmed",
		slog.Int("knowledge_bases", len(kbs)),
		slog.Int("agents", len(agents)),
	)
	return nil
}

// GetOrCreateKnowledgeBase returns the knowledge base record for a
// website, creating one on the provider when neither the cache nor
// the durable store has it.
func (o *Orchestrator) GetOrCreateKnowledgeBase(ctx context.Context, websiteURL string) (*KnowledgeBase, error) {
	key := resourcekey.Derive(websiteURL)

	if kb, ok := o.cache.KnowledgeBase(key); ok {
		o.metrics.cacheHit("knowledge_base")
		return kb, nil
	}

	kb, err := o.stores.KnowledgeBases.Get(ctx, key)
	if err == nil {
		o.metrics.storeHit("knowledge_base")
		o.cache.PutKnowledgeBase(kb)
		return kb, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("loading knowledge base %s: %w", key, err)
	}

	v, err, _ := o.kbFlight.Do(key, func() (any, error) {
		return o.createKnowledgeBase(ctx, key, websiteURL)
	})
	if err != nil {
		return nil, err
	}
	created := *(v.(*KnowledgeBase))
	return &created, nil
}

func (o *Orchestrator) createKnowledgeBase(ctx context.Context, key, websiteURL string) (*KnowledgeBase, error) {
	// A coalesced caller may have completed creation between the
	// store miss and entering the flight.
	if kb, ok := o.cache.KnowledgeBase(key); ok {
		return kb, nil
	}

	defaultDB, err := o.stores.Settings.DefaultDatabaseID(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		o.logger.Warn("reading default database id", slog.String("error", err.Error()))
	}

	pkb, err := o.provider.CreateKnowledgeBase(ctx, &CreateKnowledgeBaseRequest{
		Name:       "kb " + websiteURL,
		SeedURL:    websiteURL,
		DatabaseID: defaultDB,
		Tags:       []string{"customer-support", key, "auto-created"},
	})
	if err != nil {
		return nil, &ProvisioningError{Stage: "knowledge_base_create", Err: err}
	}

	now := time.Now().UTC()
	kb := &KnowledgeBase{
		Key:        key,
		ProviderID: pkb.ID,
		WebsiteURL: websiteURL,
		DatabaseID: pkb.DatabaseID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.stores.KnowledgeBases.Upsert(ctx, kb); err != nil {
		o.logger.Warn("persisting knowledge base",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	o.cache.PutKnowledgeBase(kb)

	// Promote the first observed backing database id to the shared
	// default so later knowledge bases reuse it. First writer wins;
	// losing a cross-process race here is harmless.
	if pkb.DatabaseID != "" && defaultDB == "" {
		if err := o.stores.Settings.SetDefaultDatabaseID(ctx, pkb.DatabaseID); err != nil {
			o.logger.Warn("recording default database id", slog.String("error", err.Error()))
		}
	}

	if o.metrics != nil {
		o.metrics.KnowledgeBasesCreated.Inc()
	}
	o.logger.Info("knowledge base created",
		slog.String("key", key),
		slog.String("provider_id", pkb.ID),
		slog.String("website_url", websiteURL),
	)
	return kb, nil
}

// GetOrCreateAgent returns the agent record for a website, creating
// and (optionally) waiting for its deployment when none exists.
//
// A cached or persisted agent that is reachable and fully linked
// returns without provider I/O. One still deploying, or reachable with
// linking work outstanding, gets a single opportunistic poll. A miss
// creates the agent, mints its access key, and either waits
// synchronously for the deployment (waitForDeployment=true) or hands
// the record to a background reconciler and returns immediately.
func (o *Orchestrator) GetOrCreateAgent(ctx context.Context, websiteURL string, waitForDeployment bool) (*Agent, error) {
	key := resourcekey.Derive(websiteURL)

	if agent, ok, err := o.lookupAgent(ctx, key); err != nil {
		return nil, err
	} else if ok {
		if agent.Ready() && !agent.needsLinking() {
			return agent, nil
		}
		refreshed, err := o.RefreshAgentDeployment(ctx, agent)
		if err != nil {
			var linkErr *LinkingError
			if errors.As(err, &linkErr) {
				return refreshed, err
			}
			// The opportunistic poll is best-effort: a failed status
			// check does not invalidate the record we already hold.
			o.logger.Warn("opportunistic deployment poll failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return agent, nil
		}
		return refreshed, nil
	}

	v, err, _ := o.agentFlight.Do(key, func() (any, error) {
		return o.createAgent(ctx, key, websiteURL)
	})
	if err != nil {
		return nil, err
	}
	agent := v.(*Agent).clone()

	if agent.Ready() {
		return agent, nil
	}
	if waitForDeployment {
		return o.waitForDeployment(ctx, agent)
	}
	o.StartBackgroundReconciliation(agent)
	return agent, nil
}

// AgentStatus returns the current record for a resource key without
// creating anything. An agent whose deployment is still unresolved
// gets one opportunistic poll first; a failed poll returns the record
// as last persisted.
func (o *Orchestrator) AgentStatus(ctx context.Context, key string) (*Agent, error) {
	agent, ok, err := o.lookupAgent(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if agent.Ready() && !agent.needsLinking() {
		return agent, nil
	}
	refreshed, err := o.RefreshAgentDeployment(ctx, agent)
	if err != nil {
		var linkErr *LinkingError
		if errors.As(err, &linkErr) {
			return refreshed, err
		}
		o.logger.Warn("opportunistic deployment poll failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return agent, nil
	}
	return refreshed, nil
}

// lookupAgent consults the cache, then reads through to the store.
func (o *Orchestrator) lookupAgent(ctx context.Context, key string) (*Agent, bool, error) {
	if agent, ok := o.cache.Agent(key); ok {
		o.metrics.cacheHit("agent")
		return agent, true, nil
	}
	agent, err := o.stores.Agents.Get(ctx, key)
	if err == nil {
		o.metrics.storeHit("agent")
		o.cache.PutAgent(agent)
		return agent.clone(), true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("loading agent %s: %w", key, err)
}

func (o *Orchestrator) createAgent(ctx context.Context, key, websiteURL string) (*Agent, error) {
	if agent, ok := o.cache.Agent(key); ok {
		return agent, nil
	}

	// The agent references its knowledge base but never attaches it
	// at creation time: the provider only accepts attachment once the
	// deployment exists. A knowledge base failure is tolerated — the
	// agent still answers from the model alone.
	var kbIDs []string
	if websiteURL != "" {
		kb, err := o.GetOrCreateKnowledgeBase(ctx, websiteURL)
		if err != nil {
			o.logger.Warn("knowledge base setup failed, creating agent without one",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else {
			kbIDs = []string{kb.ProviderID}
		}
	}

	pa, err := o.provider.CreateAgent(ctx, &CreateAgentRequest{
		Name:        "support agent " + websiteURL,
		Instruction: agentInstruction(websiteURL),
		Description: "Customer support agent for " + websiteURL,
		Tags:        []string{"customer-support", key, "shared-agent"},
	})
	if err != nil {
		return nil, &ProvisioningError{Stage: "agent_create", Err: err}
	}

	now := time.Now().UTC()
	agent := &Agent{
		Key:              key,
		ProviderID:       pa.ID,
		WebsiteURL:       websiteURL,
		KnowledgeBaseIDs: kbIDs,
		DeploymentStatus: StatusCreating,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	agent.applyDeployment(pa)

	// Mint the access key right away via the dedicated credential
	// call. Keys embedded in the creation response are stale in the
	// provider's API and are never used. Failure is tolerated here:
	// the field stays empty and deferred linking retries it.
	secret, err := o.provider.CreateAgentAccessKey(ctx, pa.ID, "key-"+key)
	if err != nil {
		o.logger.Warn("access key creation failed, will retry during linking",
			slog.String("agent_id", pa.ID),
			slog.String("error", err.Error()),
		)
	} else if secret != "" {
		agent.AccessKey = secret
	}

	// Rarely the creation response already carries a live deployment.
	if agent.Ready() {
		if err := o.deferredLink(ctx, agent); err != nil {
			o.logger.Warn("deferred linking incomplete after creation",
				slog.String("agent_id", pa.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.persistAgent(ctx, agent)

	if o.metrics != nil {
		o.metrics.AgentsCreated.Inc()
	}
	o.logger.Info("agent created",
		slog.String("key", key),
		slog.String("agent_id", pa.ID),
		slog.String("status", string(agent.DeploymentStatus)),
		slog.Bool("has_url", agent.Ready()),
	)
	return agent, nil
}

// waitForDeployment polls the provider until the agent is running, a
// terminal failure is reported, or the ceiling elapses. The record is
// persisted in its last-known state on every outcome so a later
// request can resume reconciliation.
func (o *Orchestrator) waitForDeployment(ctx context.Context, agent *Agent) (*Agent, error) {
	start := time.Now()
	deadline := start.Add(o.cfg.waitCeiling())

	for {
		pa, err := o.provider.GetAgent(ctx, agent.ProviderID)
		if err != nil {
			o.logger.Warn("deployment poll failed",
				slog.String("agent_id", agent.ProviderID),
				slog.String("error", err.Error()),
			)
		} else {
			agent.applyDeployment(pa)

			if agent.DeploymentStatus.Failed() {
				o.persistAgent(ctx, agent)
				return agent, &DeploymentFailedError{AgentID: agent.ProviderID, Status: agent.DeploymentStatus}
			}
			if agent.DeploymentStatus == StatusRunning && agent.Ready() {
				linkErr := o.deferredLink(ctx, agent)
				o.persistAgent(ctx, agent)
				if o.metrics != nil {
					o.metrics.DeploymentWaits.Observe(time.Since(start).Seconds())
				}
				o.logger.Info("agent deployment completed",
					slog.String("agent_id", agent.ProviderID),
					slog.String("url", agent.DeploymentURL),
					slog.Duration("waited", time.Since(start)),
				)
				return agent, linkErr
			}
		}

		if time.Now().After(deadline) {
			o.persistAgent(ctx, agent)
			return agent, &DeploymentTimeoutError{AgentID: agent.ProviderID, Waited: o.cfg.waitCeiling()}
		}

		select {
		case <-ctx.Done():
			o.persistAgent(ctx, agent)
			return agent, ctx.Err()
		case <-time.After(o.cfg.pollInterval()):
		}
	}
}

// RefreshAgentDeployment performs a single opportunistic status poll.
// When the deployment URL becomes available (or linking previously
// completed only partially — an unminted key or a failed attachment)
// it re-runs deferred linking and persists the result. Status
// progression is monotonic: a stale provider response never moves the
// record backward.
func (o *Orchestrator) RefreshAgentDeployment(ctx context.Context, agent *Agent) (*Agent, error) {
	agent = agent.clone()

	pa, err := o.provider.GetAgent(ctx, agent.ProviderID)
	if err != nil {
		return agent, fmt.Errorf("refreshing agent %s: %w", agent.ProviderID, err)
	}
	agent.applyDeployment(pa)

	var linkErr error
	if agent.Ready() && agent.needsLinking() {
		linkErr = o.deferredLink(ctx, agent)
		if linkErr != nil {
			o.logger.Warn("deferred linking incomplete during refresh",
				slog.String("agent_id", agent.ProviderID),
				slog.String("error", linkErr.Error()),
			)
		}
	}

	o.persistAgent(ctx, agent)
	return agent, linkErr
}

// deferredLink mints the access key if still absent and attaches the
// knowledge bases not yet confirmed attached. Only runs once the
// deployment is reachable; individual failures are tolerated, left
// pending on the record, and retried on a later lookup or
// reconciliation pass.
func (o *Orchestrator) deferredLink(ctx context.Context, agent *Agent) error {
	if !agent.Ready() {
		return fmt.Errorf("deferred linking requires a deployment URL (agent %s)", agent.ProviderID)
	}

	var errs []error

	if agent.AccessKey == "" {
		secret, err := o.provider.CreateAgentAccessKey(ctx, agent.ProviderID, "key-"+agent.Key)
		switch {
		case err != nil:
			o.logger.Warn("access key creation failed",
				slog.String("agent_id", agent.ProviderID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("minting access key: %w", err))
		case secret == "":
			errs = append(errs, errors.New("provider returned an empty access key"))
		default:
			agent.AccessKey = secret
		}
	}

	for _, kbID := range agent.pendingAttachments() {
		if err := o.provider.AttachKnowledgeBase(ctx, agent.ProviderID, kbID); err != nil {
			o.logger.Warn("knowledge base attachment failed",
				slog.String("agent_id", agent.ProviderID),
				slog.String("kb_id", kbID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("attaching %s: %w", kbID, err))
			continue
		}
		agent.AttachedKnowledgeBaseIDs = append(agent.AttachedKnowledgeBaseIDs, kbID)
	}

	if len(errs) > 0 {
		if o.metrics != nil {
			o.metrics.LinkingFailures.Inc()
		}
		return &LinkingError{AgentID: agent.ProviderID, Err: errors.Join(errs...)}
	}
	return nil
}

// applyDeployment merges a provider status report into the record.
// The deployment URL is effectively write-once and the status only
// moves forward along the lifecycle.
func (a *Agent) applyDeployment(pa *ProviderAgent) {
	if pa.DeploymentURL != "" && a.DeploymentURL == "" {
		a.DeploymentURL = pa.DeploymentURL
	}
	if pa.Status != "" && pa.Status.rank() >= a.DeploymentStatus.rank() {
		a.DeploymentStatus = pa.Status
	}
}

// persistAgent writes the record through both tiers. A store failure
// is logged but does not fail the operation: the cache stays current
// and the next successful write repairs durability.
func (o *Orchestrator) persistAgent(ctx context.Context, agent *Agent) {
	agent.UpdatedAt = time.Now().UTC()
	if err := o.stores.Agents.Upsert(ctx, agent); err != nil {
		o.logger.Warn("persisting agent",
			slog.String("key", agent.Key),
			slog.String("error", err.Error()),
		)
	}
	o.cache.PutAgent(agent)
}

func agentInstruction(websiteURL string) string {
	return `You are a helpful customer support assistant for ` + websiteURL + `.

Guidelines:
1. Answer from the knowledge base built from the website's content.
2. Be accurate and friendly; say so honestly when you do not know.
3. Mention when information comes from the website.

This agent is shared by all sessions for ` + websiteURL + `; user-specific context is supplied with each request.`
}
