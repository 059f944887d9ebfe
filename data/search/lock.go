package search

import (
	"context"
	"errors"
	"sync"
)

// ErrLockHeld is returned when a lock cannot be acquired
var ErrLockHeld = errors.New("search: lock is held by another writer")

// UnlockFunc releases an acquired lock
type UnlockFunc func(ctx context.Context) error

// Locker serializes writers per key
type Locker interface {
	Lock(ctx context.Context, key string) (UnlockFunc, error)
}

// KeyedLocker is an in-process Locker
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyedLocker creates an in-process locker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]chan struct{})}
}

func (l *KeyedLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock blocks until key is free or ctx is done
func (l *KeyedLocker) Lock(ctx context.Context, key string) (UnlockFunc, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

// TryLock acquires key without waiting
func (l *KeyedLocker) TryLock(key string) (UnlockFunc, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	default:
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
