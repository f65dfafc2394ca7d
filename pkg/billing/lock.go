package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TenantLocker serializes provider-mutating operations per tenant. Add-on
// and plan changes carry side effects on the provider and are not idempotent
// at the call level, so exactly one may run per tenant at a time.
// Reconciliation merges do not take this lock; they are conditional writes.
type TenantLocker interface {
	// Lock blocks until the tenant's lock is held or ctx is done. The
	// returned function releases the lock.
	Lock(ctx context.Context, tenantID uuid.UUID) (unlock func(), err error)
}

// keyedMutex is the in-process default, sufficient for single-instance
// deployments. Multi-process deployments should inject the Redis locker.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an in-memory TenantLocker.
func NewKeyedMutex() TenantLocker {
	return &keyedMutex{locks: make(map[uuid.UUID]*tenantLock)}
}

func (k *keyedMutex) Lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	l, ok := k.locks[tenantID]
	if !ok {
		l = &tenantLock{}
		k.locks[tenantID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, tenantID)
		}
		k.mu.Unlock()
	}, nil
}
