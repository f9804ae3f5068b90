package engine

import "sync"

// reentrancyGuard serializes all entry points on one whole-engine lock.
// Mutating calls fail fast when the lock is already held: the holder is
// either another goroutine mid-operation or an external collaborator
// calling back in before ledger state is consistent. Read-only calls
// block instead, so they observe only committed state.
//
// The mutex is not reentrant. A token collaborator that issues a read
// query from inside a transfer callback would deadlock, which is why the
// token interfaces forbid calling back into the engine.
type reentrancyGuard struct {
	mu sync.Mutex
}

func (g *reentrancyGuard) enter() error {
	if !g.mu.TryLock() {
		return ErrReentrantCall
	}
	return nil
}

func (g *reentrancyGuard) exit() {
	g.mu.Unlock()
}

func (g *reentrancyGuard) rlock() {
	g.mu.Lock()
}

func (g *reentrancyGuard) runlock() {
	g.mu.Unlock()
}
