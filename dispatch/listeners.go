package dispatch

import "sync"

// Listener is a one-shot callback receiving the raw frame that answered it.
type Listener func(raw []byte)

type listenerEntry struct {
	token string
	fn    Listener
}

// Listeners tracks callbacks awaiting an out-of-band frame carrying their
// awaitId. Entries are never expired here; whoever registers a listener is
// responsible for removing it once it stops waiting.
type Listeners struct {
	mu      sync.Mutex
	entries []listenerEntry
}

// NewListeners creates an empty listener registry.
func NewListeners() *Listeners {
	return &Listeners{}
}

// Register stores fn under token. Duplicate tokens coexist; the oldest entry
// is served first.
func (l *Listeners) Register(token string, fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, listenerEntry{token: token, fn: fn})
}

// Remove drops the oldest entry registered under token.
func (l *Listeners) Remove(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.take(token) != nil
}

// Deliver invokes the oldest listener registered under token with raw and
// removes it. It reports whether a listener was found. The callback runs
// synchronously, outside the registry lock.
func (l *Listeners) Deliver(token string, raw []byte) bool {
	l.mu.Lock()
	fn := l.take(token)
	l.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(raw)
	return true
}

// Len returns the number of pending listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Listeners) take(token string) Listener {
	for i, e := range l.entries {
		if e.token == token {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return e.fn
		}
	}
	return nil
}
