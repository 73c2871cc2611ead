package execution

import (
	"context"
	"sync"
	"time"

	"paper_trade/internal/domain"
)

// KeyLock serializes ledger mutations per (user, symbol) key so the
// position, balance and transaction writes behave as one logical unit even
// though they span multiple stored records. Keys are independent: a trade on
// (userA, AAPL) never blocks (userA, MSFT) or (userB, AAPL).
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	timeout time.Duration
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyLock creates a keyed lock with a bounded acquisition wait
func NewKeyLock(timeout time.Duration) *KeyLock {
	return &KeyLock{
		entries: make(map[string]*lockEntry),
		timeout: timeout,
	}
}

// WithLock runs fn inside the exclusive critical section for (userID,
// symbol). The section is released on every exit path, including panics, and
// release does not depend on the caller's context still being live. Returns
// ErrLockTimeout when the section cannot be entered within the bounded wait.
func (kl *KeyLock) WithLock(ctx context.Context, userID, symbol string, fn func() error) error {
	key := userID + "\x00" + symbol
	entry := kl.acquire(key)
	defer kl.release(key)

	timer := time.NewTimer(kl.timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-timer.C:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.sem }()

	return fn()
}

func (kl *KeyLock) acquire(key string) *lockEntry {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry, ok := kl.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		kl.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (kl *KeyLock) release(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry := kl.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(kl.entries, key)
	}
}
