package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/msaidizi/internal/resourcekey"
)

// fakeProvider scripts deployment polls and counts every call.
type fakeProvider struct {
	mu sync.Mutex

	createKBCalls int
	agentCalls    int
	getAgentCalls int
	keyCalls      int
	attachCalls   int
	lastKBRequest *CreateKnowledgeBaseRequest
	attachedKBs   []string

	kbErr     error
	keyErr    error
	attachErr error

	// polls is consumed one entry per GetAgent call; the last entry
	// repeats once exhausted.
	polls []ProviderAgent
}

func (f *fakeProvider) CreateKnowledgeBase(_ context.Context, req *CreateKnowledgeBaseRequest) (*ProviderKnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createKBCalls++
	f.lastKBRequest = req
	if f.kbErr != nil {
		return nil, f.kbErr
	}
	return &ProviderKnowledgeBase{ID: "kb-1", DatabaseID: "db-1"}, nil
}

func (f *fakeProvider) CreateAgent(_ context.Context, _ *CreateAgentRequest) (*ProviderAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentCalls++
	return &ProviderAgent{ID: "agent-1", Status: StatusWaitingForDeployment}, nil
}

func (f *fakeProvider) GetAgent(_ context.Context, _ string) (*ProviderAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getAgentCalls++
	if len(f.polls) == 0 {
		return &ProviderAgent{ID: "agent-1", Status: StatusWaitingForDeployment}, nil
	}
	pa := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return &pa, nil
}

func (f *fakeProvider) CreateAgentAccessKey(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCalls++
	if f.keyErr != nil {
		return "", f.keyErr
	}
	return "secret-key", nil
}

func (f *fakeProvider) AttachKnowledgeBase(_ context.Context, _, kbID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attachedKBs = append(f.attachedKBs, kbID)
	return nil
}

func (f *fakeProvider) counts() (kb, agent, get, key, attach int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createKBCalls, f.agentCalls, f.getAgentCalls, f.keyCalls, f.attachCalls
}

// memStores is an in-memory Stores implementation for tests.
type memStores struct {
	mu        sync.Mutex
	kbs       map[string]KnowledgeBase
	agents    map[string]Agent
	defaultDB string
	kbGets    int
	agentGets int
}

func newMemStores() *memStores {
	return &memStores{kbs: make(map[string]KnowledgeBase), agents: make(map[string]Agent)}
}

func (m *memStores) stores() Stores {
	return Stores{
		KnowledgeBases: (*memKBStore)(m),
		Agents:         (*memAgentStore)(m),
		Settings:       (*memSettingsStore)(m),
	}
}

type memKBStore memStores

func (m *memKBStore) Get(_ context.Context, key string) (*KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kbGets++
	kb, ok := m.kbs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &kb, nil
}

func (m *memKBStore) Upsert(_ context.Context, kb *KnowledgeBase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kbs[kb.Key] = *kb
	return nil
}

func (m *memKBStore) List(_ context.Context) ([]KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KnowledgeBase, 0, len(m.kbs))
	for _, kb := range m.kbs {
		out = append(out, kb)
	}
	return out, nil
}

type memAgentStore memStores

func (m *memAgentStore) Get(_ context.Context, key string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentGets++
	a, ok := m.agents[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := a
	cp.KnowledgeBaseIDs = append([]string(nil), a.KnowledgeBaseIDs...)
	cp.AttachedKnowledgeBaseIDs = append([]string(nil), a.AttachedKnowledgeBaseIDs...)
	return &cp, nil
}

func (m *memAgentStore) Upsert(_ context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.KnowledgeBaseIDs = append([]string(nil), a.KnowledgeBaseIDs...)
	cp.AttachedKnowledgeBaseIDs = append([]string(nil), a.AttachedKnowledgeBaseIDs...)
	m.agents[a.Key] = cp
	return nil
}

func (m *memAgentStore) List(_ context.Context) ([]Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out, nil
}

func (m *memAgentStore) ListPending(_ context.Context) ([]Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Agent
	for _, a := range m.agents {
		if a.DeploymentURL == "" && !a.DeploymentStatus.Terminal() {
			out = append(out, a)
		}
	}
	return out, nil
}

type memSettingsStore memStores

func (m *memSettingsStore) DefaultDatabaseID(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defaultDB == "" {
		return "", ErrNotFound
	}
	return m.defaultDB, nil
}

func (m *memSettingsStore) SetDefaultDatabaseID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defaultDB == "" {
		m.defaultDB = id
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(p Provider, m *memStores, cfg Config) (*Orchestrator, *Cache) {
	cache := NewCache()
	o := NewOrchestrator(p, m.stores(), cache, cfg, testLogger(), nil)
	return o, cache
}

const testURL = "https://shop.example.com"

func TestKnowledgeBaseGetOrCreateIdempotent(t *testing.T) {
	provider := &fakeProvider{}
	stores := newMemStores()
	o, cache := newTestOrchestrator(provider, stores, Config{})
	ctx := context.Background()

	first, err := o.GetOrCreateKnowledgeBase(ctx, testURL)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.ProviderID != "kb-1" {
		t.Fatalf("provider id = %q, want kb-1", first.ProviderID)
	}

	// Same website again: cache hit, no provider call.
	second, err := o.GetOrCreateKnowledgeBase(ctx, testURL)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if second.ProviderID != first.ProviderID {
		t.Errorf("second lookup returned %q, want %q", second.ProviderID, first.ProviderID)
	}

	// Simulated restart: cache gone, store answers and no new
	// provider resource is created.
	cache.Clear()
	third, err := o.GetOrCreateKnowledgeBase(ctx, testURL)
	if err != nil {
		t.Fatalf("post-restart lookup: %v", err)
	}
	if third.ProviderID != first.ProviderID {
		t.Errorf("post-restart lookup returned %q, want %q", third.ProviderID, first.ProviderID)
	}
	if kb, _, _, _, _ := provider.counts(); kb != 1 {
		t.Errorf("CreateKnowledgeBase calls = %d, want 1", kb)
	}
}

func TestKnowledgeBaseNormalizedURLsShareKey(t *testing.T) {
	provider := &fakeProvider{}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{})
	ctx := context.Background()

	if _, err := o.GetOrCreateKnowledgeBase(ctx, "https://Shop.Example.com/"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := o.GetOrCreateKnowledgeBase(ctx, "shop.example.com"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if kb, _, _, _, _ := provider.counts(); kb != 1 {
		t.Errorf("CreateKnowledgeBase calls = %d, want 1 for equivalent URLs", kb)
	}
}

func TestDefaultDatabaseIDReused(t *testing.T) {
	provider := &fakeProvider{}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{})
	ctx := context.Background()

	if _, err := o.GetOrCreateKnowledgeBase(ctx, "https://a.example.com"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if stores.defaultDB != "db-1" {
		t.Fatalf("default database id = %q, want db-1", stores.defaultDB)
	}

	if _, err := o.GetOrCreateKnowledgeBase(ctx, "https://b.example.com"); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if provider.lastKBRequest.DatabaseID != "db-1" {
		t.Errorf("second creation requested database %q, want db-1", provider.lastKBRequest.DatabaseID)
	}
}

func TestAgentRunningOnFirstPoll(t *testing.T) {
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})

	agent, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	if err != nil {
		t.Fatalf("GetOrCreateAgent: %v", err)
	}
	if !agent.Ready() {
		t.Fatal("agent not ready after RUNNING poll")
	}
	if agent.AccessKey != "secret-key" {
		t.Errorf("access key = %q, want secret-key", agent.AccessKey)
	}
	if agent.DeploymentStatus != StatusRunning {
		t.Errorf("status = %s, want RUNNING", agent.DeploymentStatus)
	}

	_, agents, _, keys, attaches := provider.counts()
	if agents != 1 {
		t.Errorf("CreateAgent calls = %d, want 1", agents)
	}
	if keys != 1 {
		t.Errorf("CreateAgentAccessKey calls = %d, want 1", keys)
	}
	if attaches != 1 {
		t.Errorf("AttachKnowledgeBase calls = %d, want exactly 1", attaches)
	}
	if len(provider.attachedKBs) != 1 || provider.attachedKBs[0] != "kb-1" {
		t.Errorf("attached %v, want [kb-1]", provider.attachedKBs)
	}

	// Record must be durable.
	stored, err := stores.stores().Agents.Get(context.Background(), resourcekey.Derive(testURL))
	if err != nil {
		t.Fatalf("stored agent: %v", err)
	}
	if stored.DeploymentURL != "https://agent-1.run" {
		t.Errorf("stored url = %q", stored.DeploymentURL)
	}
}

func TestNoAttachmentBeforeDeploymentURL(t *testing.T) {
	// The deployment never surfaces a URL within the ceiling; no
	// attachment call may be issued.
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusWaitingForDeployment},
			{ID: "agent-1", Status: StatusDeploying},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  30 * time.Millisecond,
	})

	agent, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	var timeout *DeploymentTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want DeploymentTimeoutError", err)
	}
	if _, _, _, _, attaches := provider.counts(); attaches != 0 {
		t.Errorf("AttachKnowledgeBase calls = %d, want 0 while URL unknown", attaches)
	}
	if agent.DeploymentStatus != StatusDeploying {
		t.Errorf("status = %s, want DEPLOYING persisted on timeout", agent.DeploymentStatus)
	}
}

func TestNoAttachmentAcrossRandomizedInterleavings(t *testing.T) {
	// The deployment never surfaces a URL; no interleaving of creates,
	// bounded waits, and status lookups may issue an attachment call.
	provider := &fakeProvider{}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval:    2 * time.Millisecond,
		WaitCeiling:     10 * time.Millisecond,
		ReconcileBudget: 50 * time.Millisecond,
	})
	ctx := context.Background()
	key := resourcekey.Derive(testURL)

	const workers = 6
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 5; j++ {
				switch rng.Intn(3) {
				case 0:
					_, _ = o.GetOrCreateAgent(ctx, testURL, false)
				case 1:
					_, _ = o.GetOrCreateAgent(ctx, testURL, true)
				default:
					_, _ = o.AgentStatus(ctx, key)
				}
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if _, _, _, keys, attaches := provider.counts(); attaches != 0 || keys != 1 {
		t.Errorf("provider calls = %d attaches / %d key mints, want 0 and 1", attaches, keys)
	}

	stored, err := stores.stores().Agents.Get(ctx, key)
	if err != nil {
		t.Fatalf("stored agent: %v", err)
	}
	if stored.DeploymentStatus.Terminal() {
		t.Errorf("status = %s, want non-terminal while the deployment is unresolved", stored.DeploymentStatus)
	}
}

func TestWaitCeilingBoundsElapsedTime(t *testing.T) {
	provider := &fakeProvider{} // never progresses
	stores := newMemStores()
	ceiling := 50 * time.Millisecond
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 10 * time.Millisecond,
		WaitCeiling:  ceiling,
	})

	start := time.Now()
	_, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	elapsed := time.Since(start)

	var timeout *DeploymentTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want DeploymentTimeoutError", err)
	}
	if elapsed > ceiling+100*time.Millisecond {
		t.Errorf("wait took %s, want within one interval of %s", elapsed, ceiling)
	}

	// Timed-out record stays non-terminal and durable so a later
	// request resumes reconciliation.
	stored, err := stores.stores().Agents.Get(context.Background(), resourcekey.Derive(testURL))
	if err != nil {
		t.Fatalf("stored agent: %v", err)
	}
	if stored.DeploymentStatus.Terminal() {
		t.Errorf("stored status %s is terminal after timeout", stored.DeploymentStatus)
	}
}

func TestDeploymentFailureIsTerminal(t *testing.T) {
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusFailed},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})

	agent, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	var failed *DeploymentFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want DeploymentFailedError", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("failure status = %s, want FAILED", failed.Status)
	}
	if agent.DeploymentStatus != StatusFailed {
		t.Errorf("record status = %s, want FAILED", agent.DeploymentStatus)
	}

	stored, err := stores.stores().Agents.Get(context.Background(), resourcekey.Derive(testURL))
	if err != nil {
		t.Fatalf("stored agent: %v", err)
	}
	if stored.DeploymentStatus != StatusFailed {
		t.Errorf("stored status = %s, want FAILED", stored.DeploymentStatus)
	}
}

func TestConcurrentColdRequestsCoalesce(t *testing.T) {
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Agent, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.GetOrCreateAgent(context.Background(), testURL, true)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].ProviderID != "agent-1" {
			t.Errorf("worker %d got agent %q", i, results[i].ProviderID)
		}
	}
	if kb, agents, _, _, _ := provider.counts(); agents != 1 || kb != 1 {
		t.Errorf("creations = %d agents / %d kbs, want 1 each", agents, kb)
	}
}

func TestRefreshIsMonotonic(t *testing.T) {
	// A stale poll reporting an earlier phase never moves the record
	// backward.
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusWaitingForDeployment},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{})

	agent := &Agent{
		Key:              resourcekey.Derive(testURL),
		ProviderID:       "agent-1",
		WebsiteURL:       testURL,
		DeploymentStatus: StatusDeploying,
	}
	refreshed, err := o.RefreshAgentDeployment(context.Background(), agent)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.DeploymentStatus != StatusDeploying {
		t.Errorf("status regressed to %s", refreshed.DeploymentStatus)
	}
}

func TestRefreshLinksWhenURLAppears(t *testing.T) {
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{})

	agent := &Agent{
		Key:              resourcekey.Derive(testURL),
		ProviderID:       "agent-1",
		WebsiteURL:       testURL,
		KnowledgeBaseIDs: []string{"kb-1"},
		DeploymentStatus: StatusDeploying,
	}
	refreshed, err := o.RefreshAgentDeployment(context.Background(), agent)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed.Ready() {
		t.Fatal("url not applied")
	}
	if refreshed.AccessKey != "secret-key" {
		t.Errorf("access key = %q after linking", refreshed.AccessKey)
	}
	if _, _, _, keys, attaches := provider.counts(); keys != 1 || attaches != 1 {
		t.Errorf("link calls = %d keys / %d attaches, want 1 each", keys, attaches)
	}
}

func TestAccessKeyMintedOnce(t *testing.T) {
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})
	ctx := context.Background()

	if _, err := o.GetOrCreateAgent(ctx, testURL, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Repeated lookups and refreshes never mint a second credential.
	if _, err := o.GetOrCreateAgent(ctx, testURL, true); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	agent, _ := o.cache.Agent(resourcekey.Derive(testURL))
	if _, err := o.RefreshAgentDeployment(ctx, agent); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, _, _, keys, _ := provider.counts(); keys != 1 {
		t.Errorf("CreateAgentAccessKey calls = %d, want 1", keys)
	}
}

func TestAccessKeyFailureRepairedDuringLinking(t *testing.T) {
	provider := &fakeProvider{
		keyErr: errors.New("rate limited"),
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})

	// Minting fails both at creation and during the first link.
	agent, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	var linkErr *LinkingError
	if !errors.As(err, &linkErr) {
		t.Fatalf("err = %v, want LinkingError", err)
	}
	if !agent.Ready() {
		t.Fatal("agent should be usable despite linking failure")
	}
	if agent.AccessKey != "" {
		t.Fatalf("access key = %q, want empty after mint failures", agent.AccessKey)
	}

	// Provider recovers; the next lookup repairs the credential.
	provider.mu.Lock()
	provider.keyErr = nil
	provider.mu.Unlock()

	repaired, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	if err != nil {
		t.Fatalf("repair lookup: %v", err)
	}
	if repaired.AccessKey != "secret-key" {
		t.Errorf("access key = %q after repair, want secret-key", repaired.AccessKey)
	}
}

func TestAttachmentFailureRepairedOnLaterLookup(t *testing.T) {
	provider := &fakeProvider{
		attachErr: errors.New("deployment still settling"),
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})
	ctx := context.Background()

	// The key mints fine; the attachment fails and must stay pending
	// on the record rather than being abandoned.
	agent, err := o.GetOrCreateAgent(ctx, testURL, true)
	var linkErr *LinkingError
	if !errors.As(err, &linkErr) {
		t.Fatalf("err = %v, want LinkingError", err)
	}
	if agent.AccessKey != "secret-key" {
		t.Fatalf("access key = %q, want minted despite attach failure", agent.AccessKey)
	}
	if got := agent.pendingAttachments(); len(got) != 1 || got[0] != "kb-1" {
		t.Fatalf("pending attachments = %v, want [kb-1]", got)
	}

	// Provider recovers; the next lookup re-runs the attachment even
	// though the agent is reachable and its key is already minted.
	provider.mu.Lock()
	provider.attachErr = nil
	provider.mu.Unlock()

	repaired, err := o.GetOrCreateAgent(ctx, testURL, true)
	if err != nil {
		t.Fatalf("repair lookup: %v", err)
	}
	if got := repaired.pendingAttachments(); len(got) != 0 {
		t.Errorf("pending attachments = %v after repair, want none", got)
	}
	if len(provider.attachedKBs) != 1 || provider.attachedKBs[0] != "kb-1" {
		t.Errorf("attached = %v, want [kb-1]", provider.attachedKBs)
	}
	if _, _, _, keys, attaches := provider.counts(); keys != 1 || attaches != 2 {
		t.Errorf("link calls = %d keys / %d attaches, want 1 key and 2 attaches", keys, attaches)
	}

	// Fully linked now: further lookups are provider-I/O free, and the
	// completed attachment is durable.
	_, _, getsBefore, _, _ := provider.counts()
	if _, err := o.GetOrCreateAgent(ctx, testURL, true); err != nil {
		t.Fatalf("linked lookup: %v", err)
	}
	if _, err := o.AgentStatus(ctx, resourcekey.Derive(testURL)); err != nil {
		t.Fatalf("status lookup: %v", err)
	}
	if _, _, gets, _, _ := provider.counts(); gets != getsBefore {
		t.Errorf("deployment polls = %d, want %d once fully linked", gets, getsBefore)
	}

	stored, err := stores.stores().Agents.Get(ctx, resourcekey.Derive(testURL))
	if err != nil {
		t.Fatalf("stored agent: %v", err)
	}
	if got := stored.pendingAttachments(); len(got) != 0 {
		t.Errorf("stored pending attachments = %v, want none", got)
	}
}

func TestKnowledgeBaseFailureToleratedOnAgentCreate(t *testing.T) {
	provider := &fakeProvider{
		kbErr: errors.New("quota exhausted"),
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval: 5 * time.Millisecond,
		WaitCeiling:  time.Second,
	})

	agent, err := o.GetOrCreateAgent(context.Background(), testURL, true)
	if err != nil {
		t.Fatalf("GetOrCreateAgent: %v", err)
	}
	if len(agent.KnowledgeBaseIDs) != 0 {
		t.Errorf("knowledge base ids = %v, want none", agent.KnowledgeBaseIDs)
	}
	if !agent.Ready() {
		t.Error("agent should deploy without a knowledge base")
	}
}

func TestBackgroundReconciliationConverges(t *testing.T) {
	provider := &fakeProvider{
		polls: []ProviderAgent{
			{ID: "agent-1", Status: StatusWaitingForDeployment},
			{ID: "agent-1", Status: StatusDeploying},
			{ID: "agent-1", Status: StatusRunning, DeploymentURL: "https://agent-1.run"},
		},
	}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval:    2 * time.Millisecond,
		ReconcileBudget: time.Second,
	})
	ctx := context.Background()

	agent, err := o.GetOrCreateAgent(ctx, testURL, false)
	if err != nil {
		t.Fatalf("GetOrCreateAgent: %v", err)
	}
	if agent.Ready() {
		t.Fatal("agent unexpectedly ready before reconciliation")
	}

	key := resourcekey.Derive(testURL)
	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := stores.stores().Agents.Get(ctx, key)
		if err == nil && stored.Ready() {
			if stored.AccessKey != "secret-key" {
				t.Errorf("access key = %q after reconciliation", stored.AccessKey)
			}
			if stored.DeploymentStatus != StatusRunning {
				t.Errorf("status = %s after reconciliation", stored.DeploymentStatus)
			}
			if _, _, _, _, attaches := provider.counts(); attaches != 1 {
				t.Errorf("AttachKnowledgeBase calls = %d, want 1", attaches)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("reconciliation did not converge")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBackgroundReconciliationDeduplicates(t *testing.T) {
	provider := &fakeProvider{}
	stores := newMemStores()
	o, _ := newTestOrchestrator(provider, stores, Config{
		PollInterval:    10 * time.Millisecond,
		ReconcileBudget: time.Second,
	})

	agent := &Agent{Key: "k1", ProviderID: "agent-1", DeploymentStatus: StatusWaitingForDeployment}
	o.StartBackgroundReconciliation(agent)
	if o.inflight.claim("k1") {
		t.Error("key claimable while a reconciler is running")
	}
	o.StartBackgroundReconciliation(agent) // no-op, key busy
}

func TestWarmCacheServesWithoutStoreReads(t *testing.T) {
	stores := newMemStores()
	key := resourcekey.Derive(testURL)
	stores.agents[key] = Agent{
		Key:              key,
		ProviderID:       "agent-1",
		WebsiteURL:       testURL,
		DeploymentURL:    "https://agent-1.run",
		AccessKey:        "secret-key",
		DeploymentStatus: StatusRunning,
	}
	stores.kbs[key] = KnowledgeBase{Key: key, ProviderID: "kb-1", WebsiteURL: testURL}

	provider := &fakeProvider{}
	o, _ := newTestOrchestrator(provider, stores, Config{})
	ctx := context.Background()

	if err := o.WarmCache(ctx); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}
	before := stores.agentGets

	agent, err := o.GetOrCreateAgent(ctx, testURL, true)
	if err != nil {
		t.Fatalf("GetOrCreateAgent: %v", err)
	}
	if agent.ProviderID != "agent-1" {
		t.Errorf("agent id = %q", agent.ProviderID)
	}
	if stores.agentGets != before {
		t.Errorf("store reads = %d, want none after warm", stores.agentGets-before)
	}
	if _, agents, gets, _, _ := provider.counts(); agents != 0 || gets != 0 {
		t.Errorf("provider calls = %d creates / %d polls, want none", agents, gets)
	}
}
