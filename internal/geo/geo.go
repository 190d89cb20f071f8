// Package geo holds the user's location as far as search templates need it:
// whether location use is allowed and a formatted address string.
package geo

import "sync"

// Locator is safe for concurrent use.
type Locator struct {
	mu      sync.Mutex
	allowed bool
	address string
	next    int
	waiters map[int]func(string)
}

// New returns a locator with an initial permission and address. An empty
// address means none is known yet.
func New(allowed bool, address string) *Locator {
	return &Locator{allowed: allowed, address: address}
}

func (l *Locator) Allowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowed
}

func (l *Locator) SetAllowed(allowed bool) {
	l.mu.Lock()
	l.allowed = allowed
	l.mu.Unlock()
}

// Address returns the formatted address, or "" when location is not allowed
// or not known.
func (l *Locator) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.allowed {
		return ""
	}
	return l.address
}

// SetAddress stores addr and fires pending OnceAddress callbacks when it is
// the first non-empty address.
func (l *Locator) SetAddress(addr string) {
	l.mu.Lock()
	l.address = addr
	var fire []func(string)
	if addr != "" {
		for _, fn := range l.waiters {
			fire = append(fire, fn)
		}
		l.waiters = nil
	}
	l.mu.Unlock()
	for _, fn := range fire {
		fn(addr)
	}
}

// OnceAddress calls fn exactly once with the first known address; right away
// if one is already set.
func (l *Locator) OnceAddress(fn func(addr string)) (dispose func()) {
	l.mu.Lock()
	if l.address != "" {
		addr := l.address
		l.mu.Unlock()
		fn(addr)
		return func() {}
	}
	if l.waiters == nil {
		l.waiters = make(map[int]func(string))
	}
	id := l.next
	l.next++
	l.waiters[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.waiters, id)
		l.mu.Unlock()
	}
}
