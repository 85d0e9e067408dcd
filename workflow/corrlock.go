package workflow

import (
	"context"
	"sync"
	"time"
)

type lockOwner struct {
	EventId    string
	AcquiredAt time.Time
}

// CorrelationLocks is a best-effort, process-local single-flight gate keyed
// by payment-intent id. It serializes events for the same transaction within
// one instance; it is not persisted and does not coordinate across instances
// (the engine additionally takes a MySQL advisory lock for that).
type CorrelationLocks struct {
	mu   sync.Mutex
	held map[string]lockOwner

	// WaitInterval is how long a caller waits once before giving up.
	WaitInterval time.Duration

	now func() time.Time
}

func NewCorrelationLocks() *CorrelationLocks {
	return &CorrelationLocks{
		held:         map[string]lockOwner{},
		WaitInterval: time.Second,
		now:          time.Now,
	}
}

// TryAcquire reports whether the key was free and is now held by ownerId.
func (l *CorrelationLocks) TryAcquire(key, ownerId string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = lockOwner{EventId: ownerId, AcquiredAt: l.now()}
	return true
}

// AcquireWithWait tries once, waits one bounded interval, and tries again.
// False means the event should be deferred rather than blocked indefinitely.
func (l *CorrelationLocks) AcquireWithWait(ctx context.Context, key, ownerId string) bool {
	if l.TryAcquire(key, ownerId) {
		return true
	}
	wait := l.WaitInterval
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
	}
	return l.TryAcquire(key, ownerId)
}

// Release frees the key. Always called from a deferred cleanup path.
func (l *CorrelationLocks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Holder returns the owning event id for a held key, for logging.
func (l *CorrelationLocks) Holder(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.held[key]
	return owner.EventId, ok
}
