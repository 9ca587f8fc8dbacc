package provision

import (
	"context"
	"time"
)

// KnowledgeBaseStore persists knowledge base records keyed by resource key.
type KnowledgeBaseStore interface {
	Get(ctx context.Context, key string) (*KnowledgeBase, error)
	Upsert(ctx context.Context, kb *KnowledgeBase) error
	List(ctx context.Context) ([]KnowledgeBase, error)
}

// AgentStore persists agent records keyed by resource key.
type AgentStore interface {
	Get(ctx context.Context, key string) (*Agent, error)
	Upsert(ctx context.Context, agent *Agent) error
	List(ctx context.Context) ([]Agent, error)

	// ListPending returns agents whose deployment is still
	// non-terminal and whose URL is unknown — the candidates for a
	// reconciliation sweep after a restart.
	ListPending(ctx context.Context) ([]Agent, error)
}

// SettingsStore holds the process-wide singleton settings, currently
// only the default backing database id shared by all knowledge bases.
type SettingsStore interface {
	// DefaultDatabaseID returns the shared backing database id, or
	// ("", ErrNotFound) when none has been recorded yet.
	DefaultDatabaseID(ctx context.Context) (string, error)

	// SetDefaultDatabaseID records the shared backing database id
	// only when none is set. A concurrent writer losing the race is
	// not an error: first writer wins, and the provider is idempotent
	// about backing database reuse.
	SetDefaultDatabaseID(ctx context.Context, id string) error
}

// SessionStore persists end-user sessions for the serving layer.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, tenantID string, limit int) ([]Session, error)
}

// Stores bundles the durable sub-stores the orchestrator writes through.
type Stores struct {
	KnowledgeBases KnowledgeBaseStore
	Agents         AgentStore
	Settings       SettingsStore
}
