package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/msaidizi/internal/provision"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func TestKnowledgeBaseRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	kb := &provision.KnowledgeBase{
		Key:        "abc123",
		ProviderID: "kb-1",
		WebsiteURL: "https://shop.example.com",
		DatabaseID: "db-1",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.KnowledgeBases().Upsert(ctx, kb); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.KnowledgeBases().Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProviderID != "kb-1" || got.DatabaseID != "db-1" {
		t.Errorf("round trip lost data: %+v", got)
	}

	all, err := s.KnowledgeBases().List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("list returned %d records", len(all))
	}
}

func TestAgentUpsertReplacesInPlace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agent := &provision.Agent{
		Key:              "abc123",
		ProviderID:       "agent-1",
		WebsiteURL:       "https://shop.example.com",
		KnowledgeBaseIDs: []string{"kb-1"},
		DeploymentStatus: provision.StatusWaitingForDeployment,
	}
	if err := s.Agents().Upsert(ctx, agent); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	agent.DeploymentURL = "https://agent-1.run"
	agent.AccessKey = "secret"
	agent.AttachedKnowledgeBaseIDs = []string{"kb-1"}
	agent.DeploymentStatus = provision.StatusRunning
	if err := s.Agents().Upsert(ctx, agent); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.Agents().Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DeploymentURL != "https://agent-1.run" || got.AccessKey != "secret" {
		t.Errorf("update lost: %+v", got)
	}
	if len(got.KnowledgeBaseIDs) != 1 || got.KnowledgeBaseIDs[0] != "kb-1" {
		t.Errorf("kb ids = %v", got.KnowledgeBaseIDs)
	}
	if len(got.AttachedKnowledgeBaseIDs) != 1 || got.AttachedKnowledgeBaseIDs[0] != "kb-1" {
		t.Errorf("attached kb ids = %v", got.AttachedKnowledgeBaseIDs)
	}

	all, err := s.Agents().List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("upsert created %d rows, want 1", len(all))
	}
}

func TestAgentGetMissingIsNotFound(t *testing.T) {
	s := testStore(t)

	if _, err := s.Agents().Get(context.Background(), "nope"); !errors.Is(err, provision.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingSelectsReconcilable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agents := []provision.Agent{
		{Key: "pending", ProviderID: "a1", DeploymentStatus: provision.StatusDeploying},
		{Key: "failed", ProviderID: "a2", DeploymentStatus: provision.StatusFailed},
		{Key: "ready", ProviderID: "a3", DeploymentURL: "https://a3.run", DeploymentStatus: provision.StatusRunning},
		{Key: "fresh", ProviderID: "a4", DeploymentStatus: provision.StatusCreating},
	}
	for i := range agents {
		if err := s.Agents().Upsert(ctx, &agents[i]); err != nil {
			t.Fatalf("upsert %s: %v", agents[i].Key, err)
		}
	}

	pending, err := s.Agents().ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	keys := map[string]bool{}
	for _, a := range pending {
		keys[a.Key] = true
	}
	if !keys["pending"] || !keys["fresh"] {
		t.Errorf("pending set = %v, want pending and fresh", keys)
	}
	if keys["failed"] || keys["ready"] {
		t.Errorf("pending set = %v, must exclude terminal and ready", keys)
	}
}

func TestDefaultDatabaseIDSetIfUnset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Settings().DefaultDatabaseID(ctx); !errors.Is(err, provision.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound before any set", err)
	}

	if err := s.Settings().SetDefaultDatabaseID(ctx, "db-first"); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := s.Settings().SetDefaultDatabaseID(ctx, "db-second"); err != nil {
		t.Fatalf("second set: %v", err)
	}

	got, err := s.Settings().DefaultDatabaseID(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "db-first" {
		t.Errorf("default database id = %q, want db-first", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	sess := &provision.Session{
		ID:             uuid.New().String(),
		TenantID:       "abc123",
		WebsiteURL:     "https://shop.example.com",
		CreatedAt:      created,
		LastActivityAt: created,
	}
	if err := s.Sessions().Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := created.Add(time.Minute)
	if err := s.Sessions().Touch(ctx, sess.ID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := s.Sessions().Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivityAt.Equal(later) {
		t.Errorf("last activity = %v, want %v", got.LastActivityAt, later)
	}

	list, err := s.Sessions().List(ctx, "abc123", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list returned %d sessions", len(list))
	}

	if err := s.Sessions().Touch(ctx, "missing", later); !errors.Is(err, provision.ErrNotFound) {
		t.Errorf("touch missing = %v, want ErrNotFound", err)
	}
}
