package provision

import "context"

// Provider is the narrow view of the remote AI platform the
// orchestrator depends on. The gradient package provides the real
// HTTP implementation; tests substitute fakes.
//
// Every call maps to a single provider API request with its own
// per-call timeout. Calls are idempotent-safe to retry at the
// transport layer; the orchestrator itself never retries.
type Provider interface {
	// CreateKnowledgeBase provisions a knowledge base seeded with a
	// web-crawler data source for the website. When DatabaseID is
	// non-empty the provider reuses that backing database instead of
	// provisioning a new one.
	CreateKnowledgeBase(ctx context.Context, req *CreateKnowledgeBaseRequest) (*ProviderKnowledgeBase, error)

	// CreateAgent provisions an agent. Knowledge bases are never
	// attached at creation time; the provider only accepts attachment
	// once the deployment exists.
	CreateAgent(ctx context.Context, req *CreateAgentRequest) (*ProviderAgent, error)

	// GetAgent returns the agent's current deployment state.
	GetAgent(ctx context.Context, agentID string) (*ProviderAgent, error)

	// CreateAgentAccessKey mints a fresh endpoint credential. Keys
	// embedded in the agent creation response are stale in practice
	// and must never be used; this call is the only trusted source.
	CreateAgentAccessKey(ctx context.Context, agentID, keyName string) (string, error)

	// AttachKnowledgeBase links a knowledge base to a deployed agent.
	// The provider rejects attachment before the deployment is
	// reachable, so callers must hold a non-empty deployment URL.
	AttachKnowledgeBase(ctx context.Context, agentID, kbID string) error
}

// CreateKnowledgeBaseRequest carries the inputs for knowledge base creation.
type CreateKnowledgeBaseRequest struct {
	Name       string
	SeedURL    string
	DatabaseID string // Optional backing database to reuse.
	Tags       []string
}

// CreateAgentRequest carries the inputs for agent creation.
type CreateAgentRequest struct {
	Name        string
	Instruction string
	Description string
	Tags        []string
}

// ProviderKnowledgeBase is the provider's view of a created knowledge base.
type ProviderKnowledgeBase struct {
	ID         string
	DatabaseID string
}

// ProviderAgent is the provider's view of an agent and its deployment.
type ProviderAgent struct {
	ID            string
	Status        DeploymentStatus
	DeploymentURL string
}
