package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu             sync.Mutex
	knowledgeBases provision.KnowledgeBaseStore
	agents         provision.AgentStore
	sessions       provision.SessionStore
	settings       provision.SettingsStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) KnowledgeBases() provision.KnowledgeBaseStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.knowledgeBases == nil {
		s.knowledgeBases = NewKnowledgeBaseRepository(s.pgDB.GormDB())
	}
	return s.knowledgeBases
}

func (s *Store) Agents() provision.AgentStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents == nil {
		s.agents = NewAgentRepository(s.pgDB.GormDB())
	}
	return s.agents
}

func (s *Store) Sessions() provision.SessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = NewSessionRepository(s.pgDB.GormDB())
	}
	return s.sessions
}

func (s *Store) Settings() provision.SettingsStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = NewSettingsRepository(s.pgDB.GormDB())
	}
	return s.settings
}

// Migrate is a no-op: PostgreSQL migration runs in Open() via autoMigrate.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pgDB.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() error { return s.pgDB.Close() }

// Driver returns "postgres".
func (s *Store) Driver() string { return "postgres" }
