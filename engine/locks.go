package engine

import (
	"sort"
	"sync"

	"vaultd/crypto"
)

// accountLocks serialises mutations per account while letting disjoint
// accounts proceed in parallel.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *accountLocks) forKey(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[key] = lk
	}
	return lk
}

// lock acquires the locks for every address in canonical byte order and
// returns the matching unlock. Duplicates are locked once, so an account
// liquidating itself does not deadlock.
func (l *accountLocks) lock(addrs ...crypto.Address) func() {
	keys := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		key := string(addr.Bytes())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	held := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		lk := l.forKey(key)
		lk.Lock()
		held = append(held, lk)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
