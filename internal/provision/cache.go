package provision

import (
	"hash/fnv"
	"sync"
)

// cacheShards spreads unrelated keys across independent locks so one
// tenant's update never serializes another tenant's lookup.
const cacheShards = 32

// Cache is the in-process record cache, the source of truth for the
// current process. It is warmed from the durable store at startup and
// written through on every state change. Lookups return copies.
type Cache struct {
	shards [cacheShards]cacheShard
}

type cacheShard struct {
	mu     sync.RWMutex
	kbs    map[string]*KnowledgeBase
	agents map[string]*Agent
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].kbs = make(map[string]*KnowledgeBase)
		c.shards[i].agents = make(map[string]*Agent)
	}
	return c
}

func (c *Cache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%cacheShards]
}

// KnowledgeBase returns the cached record for a key, or (nil, false).
func (c *Cache) KnowledgeBase(key string) (*KnowledgeBase, bool) {
	s := c.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.kbs[key]
	if !ok {
		return nil, false
	}
	cp := *kb
	return &cp, true
}

// PutKnowledgeBase stores a copy of the record. Last write wins.
func (c *Cache) PutKnowledgeBase(kb *KnowledgeBase) {
	s := c.shard(kb.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *kb
	s.kbs[kb.Key] = &cp
}

// Agent returns the cached record for a key, or (nil, false).
func (c *Cache) Agent(key string) (*Agent, bool) {
	s := c.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[key]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// PutAgent stores a copy of the record. Last write wins.
func (c *Cache) PutAgent(a *Agent) {
	s := c.shard(a.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.Key] = a.clone()
}

// Clear drops every cached record. Used by tests to simulate a
// process restart without touching the durable store.
func (c *Cache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.kbs = make(map[string]*KnowledgeBase)
		s.agents = make(map[string]*Agent)
		s.mu.Unlock()
	}
}
