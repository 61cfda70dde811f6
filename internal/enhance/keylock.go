package enhance

import (
	"context"
	"sync"
)

// keyedLock serializes work per key. Waiters give up when their context
// ends. The zero value is ready to use.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int // holder plus waiters
}

// Lock blocks until key is free or ctx ends.
func (k *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.slots == nil {
		k.slots = make(map[string]*slot)
	}
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				k.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, s)
		return nil, context.Cause(ctx)
	}
}

func (k *keyedLock) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Pending reports whether key is held or awaited.
func (k *keyedLock) Pending(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	return ok && s.refs > 0
}
