package lockorder

import "sync"

// Mutex is an exclusive lock bound to one position in the global acquisition
// order. All acquisitions go through the validator when it is enabled.
type Mutex struct {
	v  *Validator
	r  Resource
	mu sync.Mutex
}

// NewMutex creates a Mutex guarding the given resource.
func NewMutex(v *Validator, r Resource) *Mutex {
	return &Mutex{v: v, r: r}
}

// Lock acquires the mutex for ctx c. It returns a LockOrderViolationError,
// without taking the lock, if c already holds a resource that comes later in
// the global order.
func (m *Mutex) Lock(c *Ctx) error {
	if err := m.v.beforeAcquire(c, m.r); err != nil {
		m.v.abandoned(c)
		return err
	}
	m.mu.Lock()
	m.v.granted(c, m.r)
	return nil
}

// Unlock releases the mutex.
func (m *Mutex) Unlock(c *Ctx) {
	m.v.released(c, m.r)
	m.mu.Unlock()
}

// RWMutex is a reader/writer lock bound to one position in the global
// acquisition order. Reader acquisitions participate in ordering and
// deadlock detection exactly like writers: a reader holding a later resource
// can deadlock a writer just the same.
type RWMutex struct {
	v  *Validator
	r  Resource
	mu sync.RWMutex
}

// NewRWMutex creates an RWMutex guarding the given resource.
func NewRWMutex(v *Validator, r Resource) *RWMutex {
	return &RWMutex{v: v, r: r}
}

// Lock acquires the write lock for ctx c.
func (m *RWMutex) Lock(c *Ctx) error {
	if err := m.v.beforeAcquire(c, m.r); err != nil {
		m.v.abandoned(c)
		return err
	}
	m.mu.Lock()
	m.v.granted(c, m.r)
	return nil
}

// Unlock releases the write lock.
func (m *RWMutex) Unlock(c *Ctx) {
	m.v.released(c, m.r)
	m.mu.Unlock()
}

// RLock acquires the read lock for ctx c. Concurrent readers do not block
// each other; a queued writer blocks subsequent readers (sync.RWMutex
// writer-preference), which the validator's fairness tests rely on.
func (m *RWMutex) RLock(c *Ctx) error {
	if err := m.v.beforeAcquire(c, m.r); err != nil {
		m.v.abandoned(c)
		return err
	}
	m.mu.RLock()
	m.v.granted(c, m.r)
	return nil
}

// RUnlock releases the read lock.
func (m *RWMutex) RUnlock(c *Ctx) {
	m.v.released(c, m.r)
	m.mu.RUnlock()
}
