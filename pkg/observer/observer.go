// Package observer implements the Child Observer: a computation-scoped
// coordination primitive that guarantees at-most-one concurrent touch per
// child name during a reconciliation run (spec §4.4).
package observer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/grove/pkg/types"
)

// ChildLookup resolves an existing child by business name, used by
// shouldUpdate to decide whether the caller is updating or creating.
type ChildLookup func(name string) (*types.Child, bool)

// Observer mediates every child interaction within one Computation (or one
// out-of-band event handler). It owns three name sets: observed, orphaned
// and busy.
type Observer struct {
	lookup ChildLookup

	mu       sync.Mutex
	cond     *sync.Cond
	observed map[string]struct{}
	orphaned map[string]struct{}
	busy     map[string]string // name -> observation token, held by whoever last claimed it
	closed   bool
}

// NewReconciliationObserver seeds orphaned with the container's current
// child names, per spec §4.4's "Reconciliation observer" flavour.
func NewReconciliationObserver(lookup ChildLookup, currentNames []string) *Observer {
	orphaned := make(map[string]struct{}, len(currentNames))
	for _, n := range currentNames {
		orphaned[n] = struct{}{}
	}
	o := &Observer{
		lookup:   lookup,
		observed: make(map[string]struct{}),
		orphaned: orphaned,
		busy:     make(map[string]string),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// NewEventsObserver starts with an empty orphaned set — out-of-band event
// handlers never drive deletion (spec §4.4's "Events observer" flavour).
func NewEventsObserver(lookup ChildLookup) *Observer {
	o := &Observer{
		lookup:   lookup,
		observed: make(map[string]struct{}),
		orphaned: make(map[string]struct{}),
		busy:     make(map[string]string),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// ShouldUpdate blocks while name is busy under another holder, then claims
// it. Once granted, name is added to observed and busy and removed from
// orphaned. Returns the existing child if one is already in the container,
// or (nil, false) if the caller should next call MayCreate. Cancellable via
// ctx (spec: "cancellable by interruption").
func (o *Observer) ShouldUpdate(ctx context.Context, name string) (*types.Child, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			o.mu.Lock()
			close(done)
			o.cond.Broadcast()
			o.mu.Unlock()
		})
		defer stop()
	}

	for {
		if o.closed {
			return nil, false, types.NewError(types.KindCancelled, context.Canceled)
		}
		select {
		case <-done:
			return nil, false, types.NewError(types.KindCancelled, ctx.Err())
		default:
		}
		if _, busy := o.busy[name]; !busy {
			break
		}
		o.cond.Wait()
	}

	o.observed[name] = struct{}{}
	o.busy[name] = uuid.NewString()
	delete(o.orphaned, name)

	if o.lookup != nil {
		if child, ok := o.lookup(name); ok {
			return child, true, nil
		}
	}
	return nil, false, nil
}

// MayCreate reports whether name may be newly created. Must be called only
// while the caller holds name (i.e. after a ShouldUpdate that returned no
// existing child, without releasing it).
func (o *Observer) MayCreate(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.busy[name]; !busy {
		return false
	}
	if o.lookup != nil {
		if _, exists := o.lookup(name); exists {
			return false
		}
	}
	return true
}

// Token returns the observation token currently held for name, if it is
// busy. Callers use this to correlate a claim with the Completed call that
// releases it, e.g. in diagnostic logging.
func (o *Observer) Token(name string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	token, ok := o.busy[name]
	return token, ok
}

// Completed releases the busy slot for name. Idempotent within a Close.
func (o *Observer) Completed(name string) {
	o.mu.Lock()
	delete(o.busy, name)
	o.mu.Unlock()
	o.cond.Broadcast()
}

// Observed returns an immutable snapshot of observed names.
func (o *Observer) Observed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return keys(o.observed)
}

// Orphaned returns an immutable snapshot of still-orphaned names.
func (o *Observer) Orphaned() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return keys(o.orphaned)
}

// Close releases any still-busy names as if Completed had been called for
// each, then marks the observer closed so further ShouldUpdate calls fail
// fast. Idempotent.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.busy = make(map[string]string)
	o.mu.Unlock()
	o.cond.Broadcast()
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
