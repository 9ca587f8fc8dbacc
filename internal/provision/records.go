// Package provision implements the support-agent provisioning core:
// get-or-create semantics for knowledge bases and deployed agents,
// backed by an in-process cache, a durable store, and the remote
// provider platform. Provisioning is slow and multi-step on the
// provider side; this package owns the client-side state machine that
// reconciles the three tiers.
package provision

import "time"

// DeploymentStatus is the lifecycle state of an agent's remote deployment.
type DeploymentStatus string

const (
	// StatusCreating is the initial state of a freshly created agent
	// before the provider has reported anything.
	StatusCreating DeploymentStatus = "CREATING"

	// StatusWaitingForDeployment means the provider accepted the agent
	// but has not started rolling out its endpoint.
	StatusWaitingForDeployment DeploymentStatus = "WAITING_FOR_DEPLOYMENT"

	// StatusDeploying means the endpoint rollout is in progress.
	StatusDeploying DeploymentStatus = "DEPLOYING"

	// StatusRunning is the terminal success state: the deployment URL
	// is reachable.
	StatusRunning DeploymentStatus = "RUNNING"

	// StatusFailed is a terminal provider-side failure. Recovery
	// requires operator intervention; the core never retries it.
	StatusFailed DeploymentStatus = "FAILED"

	// StatusCanceled is a terminal state for deployments canceled on
	// the provider side.
	StatusCanceled DeploymentStatus = "CANCELED"

	// StatusUnknown covers provider values this client does not
	// recognize. Treated as non-terminal: polling continues.
	StatusUnknown DeploymentStatus = "UNKNOWN"
)

// Terminal reports whether the status is an end state of the
// deployment lifecycle (success or failure).
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusRunning, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Failed reports whether the status is a terminal failure.
func (s DeploymentStatus) Failed() bool {
	return s == StatusFailed || s == StatusCanceled
}

// rank orders statuses along the deployment progression. Updates that
// would move a record to a lower rank are discarded so observed
// progressions are monotonic (a stale poll can never resurrect
// WAITING_FOR_DEPLOYMENT after RUNNING has been seen).
func (s DeploymentStatus) rank() int {
	switch s {
	case StatusWaitingForDeployment:
		return 1
	case StatusDeploying:
		return 2
	case StatusRunning, StatusFailed, StatusCanceled:
		return 3
	default: // CREATING, UNKNOWN
		return 0
	}
}

// KnowledgeBase is the durable record of a provisioned knowledge base.
// One exists per resource key; the core never deletes them.
type KnowledgeBase struct {
	Key        string    `json:"key"`
	ProviderID string    `json:"provider_id"`
	WebsiteURL string    `json:"website_url"`
	DatabaseID string    `json:"database_id,omitempty"` // Backing database; empty until observed.
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Agent is the durable record of a provisioned support agent.
type Agent struct {
	Key                      string           `json:"key"`
	ProviderID               string           `json:"provider_id"`
	DeploymentURL            string           `json:"deployment_url,omitempty"` // Empty until the deployment is reachable.
	AccessKey                string           `json:"access_key,omitempty"`     // Write-once; minted via the dedicated credential call, never taken from the creation response.
	KnowledgeBaseIDs         []string         `json:"knowledge_base_ids,omitempty"`
	AttachedKnowledgeBaseIDs []string         `json:"attached_knowledge_base_ids,omitempty"` // Subset of KnowledgeBaseIDs the provider has confirmed attached.
	WebsiteURL               string           `json:"website_url"`
	DeploymentStatus         DeploymentStatus `json:"deployment_status"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// Ready reports whether the agent's deployment is reachable.
func (a *Agent) Ready() bool {
	return a.DeploymentURL != ""
}

// pendingAttachments returns the knowledge bases that still await a
// confirmed attachment on the provider.
func (a *Agent) pendingAttachments() []string {
	if len(a.KnowledgeBaseIDs) == 0 {
		return nil
	}
	attached := make(map[string]struct{}, len(a.AttachedKnowledgeBaseIDs))
	for _, id := range a.AttachedKnowledgeBaseIDs {
		attached[id] = struct{}{}
	}
	var pending []string
	for _, id := range a.KnowledgeBaseIDs {
		if _, ok := attached[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// needsLinking reports whether deferred linking still has work to do:
// an unminted access key or an outstanding attachment. Pending work is
// never abandoned; a later lookup or refresh retries it.
func (a *Agent) needsLinking() bool {
	return a.AccessKey == "" || len(a.pendingAttachments()) > 0
}

// clone returns a deep copy so callers never share slices with the cache.
func (a *Agent) clone() *Agent {
	cp := *a
	cp.KnowledgeBaseIDs = append([]string(nil), a.KnowledgeBaseIDs...)
	cp.AttachedKnowledgeBaseIDs = append([]string(nil), a.AttachedKnowledgeBaseIDs...)
	return &cp
}

// Session ties an end-user conversation to a tenant website. Sessions
// are created by the serving layer and only touched here because the
// orchestrator's callers key off them.
type Session struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	WebsiteURL     string    `json:"website_url"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
