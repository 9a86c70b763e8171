package sealpir

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"golang.org/x/exp/maps"
)

// galoisKeyEntry holds one client's automorphism key material together
// with the fingerprint of the parameters it was stamped under.
type galoisKeyEntry struct {
	evk *rlwe.MemEvaluationKeySet
	tag [32]byte
}

// keyStore maps client identifiers to galois key material. Registration
// for distinct clients is independent; reads and writes for the same
// client are guarded by the store lock.
type keyStore struct {
	mu      sync.RWMutex
	entries map[uint32]galoisKeyEntry
}

func newKeyStore() *keyStore {
	return &keyStore{entries: make(map[uint32]galoisKeyEntry)}
}

// set inserts or overwrites the entry for clientID unconditionally.
func (ks *keyStore) set(clientID uint32, evk *rlwe.MemEvaluationKeySet, tag [32]byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.entries[clientID] = galoisKeyEntry{evk: evk, tag: tag}
}

// lookup returns the key material for clientID. An unregistered client,
// or one whose keys were stamped under a parameter version other than
// tag, yields ErrMissingKey.
func (ks *keyStore) lookup(clientID uint32, tag [32]byte) (*rlwe.MemEvaluationKeySet, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	entry, ok := ks.entries[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: no keys registered for client %d", ErrMissingKey, clientID)
	}
	if entry.tag != tag {
		return nil, fmt.Errorf("%w: keys for client %d are stale, re-registration required", ErrMissingKey, clientID)
	}
	return entry.evk, nil
}

// delete removes the entry for clientID, if any.
func (ks *keyStore) delete(clientID uint32) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.entries, clientID)
}

// retag re-stamps every stored entry with tag. Called on parameter
// updates: structural fields cannot have changed, so the key material
// itself remains valid.
func (ks *keyStore) retag(tag [32]byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for clientID, entry := range ks.entries {
		entry.tag = tag
		ks.entries[clientID] = entry
	}
}

// clients returns the identifiers with registered keys, sorted.
func (ks *keyStore) clients() []uint32 {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	ids := maps.Keys(ks.entries)
	slices.Sort(ids)
	return ids
}
