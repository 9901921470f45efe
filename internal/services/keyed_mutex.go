package services

import "sync"

// keyedMutex serializes work per key. Waiters on one key are released in
// arrival order: blocked channel senders are woken FIFO.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &keySlot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	s.ch <- struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.mu.Lock()
			s.refs--
			if s.refs == 0 {
				delete(k.slots, key)
			}
			k.mu.Unlock()
		})
	}
}
