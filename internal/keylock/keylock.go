// Package keylock provides a non-blocking per-key mutex.
package keylock

import (
	"errors"
	"sync"
)

// ErrLocked is returned by Acquire when the key is already held.
var ErrLocked = errors.New("keylock: key is locked")

// KeyLock is a set of in-flight keys. Acquire has no fairness guarantees;
// callers skip or defer work on ErrLocked.
type KeyLock[K comparable] struct {
	mu      sync.Mutex
	held    map[K]struct{}
	pending map[K][]func()
}

func New[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{
		held:    make(map[K]struct{}),
		pending: make(map[K][]func()),
	}
}

// Acquire marks k as held, or returns ErrLocked if it already is.
func (l *KeyLock[K]) Acquire(k K) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[k]; ok {
		return ErrLocked
	}
	l.held[k] = struct{}{}
	return nil
}

// Release frees k. Releasing a key that is not held is a no-op.
func (l *KeyLock[K]) Release(k K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, k)
	delete(l.pending, k)
}

func (l *KeyLock[K]) Held(k K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[k]
	return ok
}

// Do runs fn while holding k. If k is already held, fn is parked and
// ErrLocked is returned; the current holder runs every parked function, in
// the order they were parked, before releasing.
func (l *KeyLock[K]) Do(k K, fn func()) error {
	l.mu.Lock()
	if _, ok := l.held[k]; ok {
		l.pending[k] = append(l.pending[k], fn)
		l.mu.Unlock()
		return ErrLocked
	}
	l.held[k] = struct{}{}
	l.mu.Unlock()

	defer l.Release(k)
	for fn != nil {
		fn()

		l.mu.Lock()
		fn = nil
		if q := l.pending[k]; len(q) > 0 {
			fn = q[0]
			if len(q) == 1 {
				delete(l.pending, k)
			} else {
				l.pending[k] = q[1:]
			}
		}
		l.mu.Unlock()
	}
	return nil
}
