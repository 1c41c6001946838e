package business

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/protocol"
)

const (
	// registryShardCount must be a power of 2 for mask based shard selection.
	registryShardCount = 32
)

// Entry is one live, registered account connection.
type Entry struct {
	AccountID string
	Session   protocol.Session
	OpenedAt  time.Time
}

type registryShard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Registry tracks the set of accounts with an open session. Sharded so that
// registration churn on one account does not contend with lookups on another.
// Size is tracked atomically for lock-free reads.
type Registry struct {
	shards      [registryShardCount]*registryShard
	hashSeed    maphash.Seed
	currentSize int32
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	r := &Registry{
		hashSeed: maphash.MakeSeed(),
	}
	for i := range registryShardCount {
		r.shards[i] = &registryShard{
			entries: make(map[string]*Entry, 64),
		}
	}
	return r
}

func (r *Registry) getShard(key string) *registryShard {
	h := maphash.String(r.hashSeed, key)
	return r.shards[h&(registryShardCount-1)]
}

// Register stores the entry for its account, silently replacing any previous
// entry for the same account.
func (r *Registry) Register(entry *Entry) {
	shard := r.getShard(entry.AccountID)

	shard.mu.Lock()
	if _, exists := shard.entries[entry.AccountID]; !exists {
		atomic.AddInt32(&r.currentSize, 1)
	}
	shard.entries[entry.AccountID] = entry
	shard.mu.Unlock()
}

// Get returns the live entry for an account, if one is registered.
func (r *Registry) Get(accountID string) (*Entry, bool) {
	shard := r.getShard(accountID)

	shard.mu.RLock()
	entry, exists := shard.entries[accountID]
	shard.mu.RUnlock()
	return entry, exists
}

// IsActive reports whether the account has a registered connection.
func (r *Registry) IsActive(accountID string) bool {
	_, ok := r.Get(accountID)
	return ok
}

// Unregister removes and returns the entry for an account. Returns nil when
// no entry was registered.
func (r *Registry) Unregister(accountID string) *Entry {
	shard := r.getShard(accountID)

	shard.mu.Lock()
	entry, exists := shard.entries[accountID]
	if exists {
		delete(shard.entries, accountID)
		atomic.AddInt32(&r.currentSize, -1)
	}
	shard.mu.Unlock()
	return entry
}

// Size returns the number of registered connections, lock-free.
func (r *Registry) Size() int32 {
	return atomic.LoadInt32(&r.currentSize)
}

// Snapshot returns all registered entries. Per-shard read locks are released
// before the slice is returned, so entries may be stale by the time the
// caller inspects them.
func (r *Registry) Snapshot() []*Entry {
	var all []*Entry
	for i := range registryShardCount {
		shard := r.shards[i]
		shard.mu.RLock()
		for _, entry := range shard.entries {
			all = append(all, entry)
		}
		shard.mu.RUnlock()
	}
	return all
}

// AccountIDs returns the ids of every registered account.
func (r *Registry) AccountIDs() []string {
	entries := r.Snapshot()
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.AccountID)
	}
	return ids
}
