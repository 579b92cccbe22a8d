package pipeline

import (
	"sync"
	"time"
)

// Overlay remembers keys this process reserved recently.
//
// Keys in the overlay count as processed even when Store.List does not
// return them yet, which happens on eventually consistent backends right
// after a write. Entries expire after ttl. A nil *Overlay is valid and empty.
type Overlay[K comparable] struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[K]time.Time
}

func NewOverlay[K comparable](ttl time.Duration) *Overlay[K] {
	return &Overlay[K]{ttl: ttl, now: time.Now, keys: map[K]time.Time{}}
}

func (o *Overlay[K]) Add(k K) {
	if o == nil || o.ttl <= 0 {
		return
	}
	o.mu.Lock()
	o.keys[k] = o.now().Add(o.ttl)
	o.mu.Unlock()
}

func (o *Overlay[K]) Remove(k K) {
	if o == nil {
		return
	}
	o.mu.Lock()
	delete(o.keys, k)
	o.mu.Unlock()
}

func (o *Overlay[K]) Has(k K) bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	exp, ok := o.keys[k]
	if !ok {
		return false
	}
	if !o.now().Before(exp) {
		delete(o.keys, k)
		return false
	}
	return true
}

// Prune drops expired keys and returns how many remain.
func (o *Overlay[K]) Prune() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for k, exp := range o.keys {
		if !now.Before(exp) {
			delete(o.keys, k)
		}
	}
	return len(o.keys)
}
