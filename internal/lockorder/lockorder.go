// Package lockorder defines the single global acquisition order over every
// shared mutable resource in the executor and enforces it at runtime. A code
// path that requests a resource out of order while already holding a later
// one is reported before it can produce a real deadlock.
//
// The documented global order is:
//
//	ledger < reservations < trader_metrics < trade_history
//
// No code path may acquire a resource while holding one that comes after it
// in this sequence.
package lockorder

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// Resource identifies one shared mutable structure. The declaration order of
// the constants below IS the global acquisition order.
type Resource int

const (
	ResourceLedger Resource = iota
	ResourceReservations
	ResourceTraderMetrics
	ResourceTradeHistory
)

// String returns the documented name of the resource.
func (r Resource) String() string {
	switch r {
	case ResourceLedger:
		return "ledger"
	case ResourceReservations:
		return "reservations"
	case ResourceTraderMetrics:
		return "trader_metrics"
	case ResourceTradeHistory:
		return "trade_history"
	default:
		return fmt.Sprintf("resource(%d)", int(r))
	}
}

// Ctx identifies one logical task: an actor mailbox loop, an execution
// attempt, or a test goroutine. Each task must use its own Ctx; sharing one
// Ctx across goroutines defeats the held-set tracking.
type Ctx struct {
	id   uint64
	name string
}

// Name returns the label the Ctx was created with.
func (c *Ctx) Name() string { return c.name }

// Validator tracks, per task, the ordered set of resources currently held
// and a wait-for graph across pending acquisitions. When disabled it costs a
// single atomic load per acquisition.
type Validator struct {
	enabled atomic.Bool
	nextID  atomic.Uint64

	mu      sync.Mutex
	held    map[uint64][]Resource          // ctx id -> resources held, in acquisition order
	waiting map[uint64]Resource            // ctx id -> resource it is blocked on
	owners  map[Resource]map[uint64]string // resource -> holder ctx ids and names
}

// NewValidator creates a Validator. Enabled validators perform full
// bookkeeping; disabled ones only pass acquisitions through to the
// underlying mutexes.
func NewValidator(enabled bool) *Validator {
	v := &Validator{
		held:    make(map[uint64][]Resource),
		waiting: make(map[uint64]Resource),
		owners:  make(map[Resource]map[uint64]string),
	}
	v.enabled.Store(enabled)
	return v
}

// NewCtx registers a new task identity with the given label.
func (v *Validator) NewCtx(name string) *Ctx {
	return &Ctx{id: v.nextID.Add(1), name: name}
}

// Enabled reports whether acquisition bookkeeping is active.
func (v *Validator) Enabled() bool { return v.enabled.Load() }

// beforeAcquire performs the order check and records the wait-for edge. It
// must be called before blocking on the underlying mutex.
func (v *Validator) beforeAcquire(c *Ctx, r Resource) error {
	if !v.enabled.Load() || c == nil {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, h := range v.held[c.id] {
		if h >= r {
			return &domain.LockOrderViolationError{
				Requested: r.String(),
				Holding:   h.String(),
			}
		}
	}
	v.waiting[c.id] = r
	return nil
}

// granted moves a pending acquisition into the held set.
func (v *Validator) granted(c *Ctx, r Resource) {
	if !v.enabled.Load() || c == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.waiting, c.id)
	v.held[c.id] = append(v.held[c.id], r)
	holders := v.owners[r]
	if holders == nil {
		holders = make(map[uint64]string)
		v.owners[r] = holders
	}
	holders[c.id] = c.name
}

// released removes a resource from the held set.
func (v *Validator) released(c *Ctx, r Resource) {
	if !v.enabled.Load() || c == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.held[c.id]
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == r {
			v.held[c.id] = append(held[:i], held[i+1:]...)
			break
		}
	}
	if len(v.held[c.id]) == 0 {
		delete(v.held, c.id)
	}
	if holders, ok := v.owners[r]; ok {
		delete(holders, c.id)
		if len(holders) == 0 {
			delete(v.owners, r)
		}
	}
}

// abandoned drops a wait-for edge when an acquisition errors out before the
// underlying lock was taken.
func (v *Validator) abandoned(c *Ctx) {
	if !v.enabled.Load() || c == nil {
		return
	}
	v.mu.Lock()
	delete(v.waiting, c.id)
	v.mu.Unlock()
}

// Cycle is one circular wait across active lock requests. Tasks lists the
// ctx names participating in the cycle, in wait order.
type Cycle struct {
	Tasks []string
}

// DetectDeadlock inspects the current wait-for graph and returns the first
// cycle found, or nil. An edge exists from task A to task B when A is
// blocked on a resource B currently holds.
func (v *Validator) DetectDeadlock() *Cycle {
	if !v.enabled.Load() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// adjacency: waiting ctx id -> holder ctx ids
	edges := make(map[uint64][]uint64)
	names := make(map[uint64]string)
	for ctxID, r := range v.waiting {
		for holderID, holderName := range v.owners[r] {
			if holderID == ctxID {
				continue
			}
			edges[ctxID] = append(edges[ctxID], holderID)
			names[holderID] = holderName
		}
	}
	for ctxID := range v.held {
		if _, ok := names[ctxID]; !ok {
			names[ctxID] = fmt.Sprintf("task-%d", ctxID)
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[uint64]int)
	var stack []uint64

	var visit func(id uint64) *Cycle
	visit = func(id uint64) *Cycle {
		state[id] = inStack
		stack = append(stack, id)
		for _, next := range edges[id] {
			switch state[next] {
			case inStack:
				// Found a back edge: extract the cycle from the stack.
				var tasks []string
				for i := len(stack) - 1; i >= 0; i-- {
					tasks = append([]string{names[stack[i]]}, tasks...)
					if stack[i] == next {
						break
					}
				}
				return &Cycle{Tasks: tasks}
			case unvisited:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for id := range edges {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// HeldBy returns the resources currently held by the given task, in
// acquisition order. Intended for assertions in tests.
func (v *Validator) HeldBy(c *Ctx) []Resource {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Resource, len(v.held[c.id]))
	copy(out, v.held[c.id])
	return out
}
