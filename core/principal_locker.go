package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type LockHandle interface {
	Unlock()
}

// PrincipalLocker serializes work per principal id.
type PrincipalLocker interface {
	Acquire(ctx context.Context, principalID string) (LockHandle, error)
}

// MemoryPrincipalLocker grants a principal's lock to waiters in arrival
// order. Entries are dropped once nobody holds or waits for them.
type MemoryPrincipalLocker struct {
	mu      sync.Mutex
	entries map[string]*principalQueue
}

type principalQueue struct {
	held    bool
	waiters []chan struct{}
}

func NewMemoryPrincipalLocker() *MemoryPrincipalLocker {
	return &MemoryPrincipalLocker{entries: make(map[string]*principalQueue)}
}

func (l *MemoryPrincipalLocker) Acquire(ctx context.Context, principalID string) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: principal locker is not configured")
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("core: principal id is required for lock acquisition")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*principalQueue)
	}
	queue, ok := l.entries[principalID]
	if !ok {
		queue = &principalQueue{}
		l.entries[principalID] = queue
	}
	if !queue.held {
		queue.held = true
		l.mu.Unlock()
		return &principalLockHandle{locker: l, principalID: principalID}, nil
	}
	ready := make(chan struct{})
	queue.waiters = append(queue.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return &principalLockHandle{locker: l, principalID: principalID}, nil
	case <-ctx.Done():
		l.mu.Lock()
		granted := true
		for index, waiter := range queue.waiters {
			if waiter == ready {
				queue.waiters = append(queue.waiters[:index], queue.waiters[index+1:]...)
				granted = false
				break
			}
		}
		l.mu.Unlock()
		if granted {
			// ownership was handed over while we were giving up
			l.release(principalID)
		}
		return nil, ctx.Err()
	}
}

func (l *MemoryPrincipalLocker) release(principalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	queue, ok := l.entries[principalID]
	if !ok {
		return
	}
	if len(queue.waiters) == 0 {
		delete(l.entries, principalID)
		return
	}
	next := queue.waiters[0]
	queue.waiters = queue.waiters[1:]
	close(next)
}

func (l *MemoryPrincipalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryPrincipalLocker) waiting(principalID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if queue, ok := l.entries[principalID]; ok {
		return len(queue.waiters)
	}
	return 0
}

type principalLockHandle struct {
	locker      *MemoryPrincipalLocker
	principalID string
	once        sync.Once
}

func (h *principalLockHandle) Unlock() {
	if h == nil || h.locker == nil {
		return
	}
	h.once.Do(func() {
		h.locker.release(h.principalID)
	})
}

var _ PrincipalLocker = (*MemoryPrincipalLocker)(nil)
