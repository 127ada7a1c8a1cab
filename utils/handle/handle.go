// Package handle maps opaque integer tokens to Go values so that code receiving only
// a token (a completion callback of an external decoder, for example) can find the
// owning object and detect that it is gone.
package handle

import (
	"sync"
)

// Invalid is never returned by Put.
const Invalid uint64 = 0

type Table[T any] struct {
	mu    sync.RWMutex
	next  uint64
	items map[uint64]T
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{
		mu:    sync.RWMutex{},
		next:  Invalid,
		items: make(map[uint64]T),
	}
}

// Put stores v and returns a fresh token. Tokens are never reused.
func (t *Table[T]) Put(v T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	t.items[t.next] = v
	return t.next
}

// Get returns the value stored under token.
func (t *Table[T]) Get(token uint64) (v T, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok = t.items[token]
	return
}

// Delete removes token. Deleting an unknown token is a no-op.
func (t *Table[T]) Delete(token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.items, token)
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.items)
}
