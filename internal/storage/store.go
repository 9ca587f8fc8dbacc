// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// Store is the unified persistence interface.
// It provides access to all domain-specific sub-stores through accessor methods.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors — each returns a domain-specific store interface.
	// The returned stores share the same underlying connection.
	KnowledgeBases() provision.KnowledgeBaseStore
	Agents() provision.AgentStore
	Sessions() provision.SessionStore
	Settings() provision.SettingsStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// ProvisionStores bundles a Store's sub-stores for the orchestrator.
func ProvisionStores(s Store) provision.Stores {
	return provision.Stores{
		KnowledgeBases: s.KnowledgeBases(),
		Agents:         s.Agents(),
		Settings:       s.Settings(),
	}
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
