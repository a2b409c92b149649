package moderation

import (
	"sync"

	"github.com/joyedlion/steward/internal/db"
)

type restrictionKey struct {
	ChatID int64
	UserID int64
	Kind   db.RestrictionKind
}

// keyedMutex serializes mutations per restriction key so that concurrent
// restrict/lift calls for unrelated subjects do not contend. Entries are
// reference counted and removed once the last holder unlocks.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[restrictionKey]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: map[restrictionKey]*lockEntry{}}
}

// Lock acquires the per-key mutex and returns the matching unlock func.
func (k *keyedMutex) Lock(key restrictionKey) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
