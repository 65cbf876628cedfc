package dispatch

import (
	"sync"
	"time"

	"github.com/mfulz/geistbind/internal/workerpool"
)

const (
	defaultTimeout = 60 * time.Second
	reducedTimeout = 5 * time.Second
	graceTimeout   = 120 * time.Second
)

// ErrTimeout classifies invocation timeouts; use errors.Is.
var ErrTimeout = workerpool.ErrTimeout

// TimeoutPolicy yields the bound for handler invocations. Early in a
// connection's life slow construction is tolerated; after the grace period
// the bound shrinks so stuck handlers surface quickly.
type TimeoutPolicy struct {
	mu      sync.RWMutex
	start   time.Time
	def     time.Duration
	reduced time.Duration
	grace   time.Duration
	now     func() time.Time
}

// NewTimeoutPolicy creates a policy. Until Start is called the default applies.
func NewTimeoutPolicy(def, reduced, grace time.Duration) *TimeoutPolicy {
	return &TimeoutPolicy{
		def:     def,
		reduced: reduced,
		grace:   grace,
		now:     time.Now,
	}
}

// Start marks the establishment of a connection.
func (p *TimeoutPolicy) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
}

// Current returns the bound for an invocation starting now.
func (p *TimeoutPolicy) Current() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.start.IsZero() || p.now().Sub(p.start) <= p.grace {
		return p.def
	}
	return p.reduced
}
