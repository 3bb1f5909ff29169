// Package container implements the Computed Container: the node in grove's
// tree whose children are authoritatively computed by reconciliation rather
// than created directly by users (spec §4.7).
package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	orderedmap "github.com/elliotchance/orderedmap/v2"

	"github.com/cuemby/grove/pkg/childstore"
	"github.com/cuemby/grove/pkg/computation"
	"github.com/cuemby/grove/pkg/events"
	"github.com/cuemby/grove/pkg/eventlog"
	"github.com/cuemby/grove/pkg/health"
	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/mangler"
	"github.com/cuemby/grove/pkg/metrics"
	"github.com/cuemby/grove/pkg/observer"
	"github.com/cuemby/grove/pkg/orphan"
	"github.com/cuemby/grove/pkg/queuegate"
	"github.com/cuemby/grove/pkg/trigger"
	"github.com/cuemby/grove/pkg/types"
)

// pollInterval and deleteTimeout implement delete()'s interrupt-then-wait
// loop (spec §4.7: "waits up to 15 seconds polling every 50ms").
const (
	deletePollInterval = 50 * time.Millisecond
	deleteTimeout      = 15 * time.Second
)

// ErrUnsupported is returned by operations the source never allowed on a
// computed container, e.g. onRenamed (spec §4.7).
var ErrUnsupported = fmt.Errorf("container: unsupported operation")

// ErrBuildsDidNotStop is returned by Delete when a running computation did
// not observe its interrupt within deleteTimeout.
var ErrBuildsDidNotStop = fmt.Errorf("container: failed to stop builds")

// Reconciler is the abstract computeChildren/updateExistingItem hook a
// concrete computed-container type supplies (spec §4.5 step 3b/3d, §4.7's
// closing paragraph).
type Reconciler interface {
	// ComputeChildren observes or creates children through obs and returns
	// the authoritative set this run discovered, keyed by business name.
	//
	// obs is seeded with every currently-known child name in its orphaned
	// set (spec §4.4's Reconciliation observer). For each name a caller
	// intends to keep — whether an existing child or one it is about to
	// create — it must call obs.ShouldUpdate(ctx, name) before returning:
	// that call moves the name out of orphaned. A name present in the
	// returned map that was never passed to ShouldUpdate stays in
	// obs.Orphaned() after this call returns, and reconcileAdapter will
	// hand it to the Orphan Strategy for deletion on this very cycle even
	// though it is also about to be recreated from the returned map.
	ComputeChildren(ctx context.Context, obs *observer.Observer, listener io.Writer) (map[string]*types.Child, error)
	// UpdateExistingItem merges replacement's opaque state into an
	// already-known child. Optional: the zero value leaves existing as-is.
	UpdateExistingItem(existing, replacement *types.Child) error
}

// Host is the capability set a Computed Container needs from whatever owns
// the item tree and executor pool — out of this module's scope in full,
// but its scheduling surface is the minimum a container must call through
// (spec §9: "host references by capability, not by concrete type").
type Host interface {
	// Enqueue runs task after delay on the host's executor. The returned
	// handle's Cancel prevents task from starting if it hasn't already.
	Enqueue(delay time.Duration, task func(ctx context.Context)) (cancel func())
}

// ComputedContainer is one node in the reconciliation tree.
type ComputedContainer struct {
	FullName   string
	RootDir    string
	Reconciler Reconciler
	Host       Host

	ChildMangler   mangler.Mangler
	Store          *childstore.Store
	OrphanStrategy orphan.Strategy
	EventWriter    *eventlog.Writer
	Broker         *events.Broker
	FileCount      int // BACKUP_LOG_COUNT, for computation.log rotation

	parent *ComputedContainer

	mu          sync.Mutex
	children    *orderedmap.OrderedMap[string, *childstore.Record]
	disabled    bool
	deleted     bool
	current     *computation.Computation
	history     *computation.History
	health      *health.Status
	descendants []*ComputedContainer
	cancelRun   context.CancelFunc
	triggers    []trigger.Trigger
}

// AddTrigger attaches a Periodic Trigger to this container (spec §4.8).
func (c *ComputedContainer) AddTrigger(t trigger.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, t)
}

// Triggers returns a snapshot of the container's attached triggers.
func (c *ComputedContainer) Triggers() []trigger.Trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]trigger.Trigger(nil), c.triggers...)
}

// New constructs a ComputedContainer. Load must be called before any build
// is scheduled.
func New(fullName, rootDir string, reconciler Reconciler, host Host, m mangler.Mangler, strategy orphan.Strategy) *ComputedContainer {
	c := &ComputedContainer{
		FullName:       fullName,
		RootDir:        rootDir,
		Reconciler:     reconciler,
		Host:           host,
		ChildMangler:   m,
		Store:          childstore.New(m),
		OrphanStrategy: strategy,
		health:         health.NewStatus(),
		history:        &computation.History{},
		children:       orderedmap.NewOrderedMap[string, *childstore.Record](),
	}
	metrics.RegisterComponent("childstore", true, "initialized for "+fullName)
	return c
}

// EnableEventLog wires up this container's on-disk out-of-band event
// stream at <RootDir>/computation/events.log (spec §6's on-disk layout).
func (c *ComputedContainer) EnableEventLog(cfg eventlog.Config) {
	path := filepath.Join(c.RootDir, "computation", "events.log")
	c.EventWriter = eventlog.NewWriter(func() (string, bool) { return path, true }, cfg)
	metrics.RegisterComponent("eventlog", true, "writer open for "+c.FullName)
}

// EnableHistoryPersistence seeds this container's rolling duration history
// from store and binds future appends to it, so the duration estimate
// survives a process restart instead of resetting to -1 (spec §4.5 step 5).
func (c *ComputedContainer) EnableHistoryPersistence(store *computation.HistoryStore) error {
	history, err := store.Load(c.FullName)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.history = history
	c.mu.Unlock()
	return nil
}

// Load reads the persisted child set from disk.
func (c *ComputedContainer) Load() error {
	children, err := c.Store.Load(c.FullName, c.RootDir)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.children = children
	c.mu.Unlock()
	return nil
}

// IsDisabled reports whether scheduling is currently blocked.
func (c *ComputedContainer) IsDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// MakeDisabled toggles scheduling. Disabling is shallow: children are left
// untouched, the Queue Gate is what actually prevents their scheduling
// (spec §4.7).
func (c *ComputedContainer) MakeDisabled(disabled bool) {
	c.mu.Lock()
	c.disabled = disabled
	c.mu.Unlock()

	evType := events.TypeContainerEnabled
	if disabled {
		evType = events.TypeContainerDisabled
	}
	c.publish(evType, "")
}

// isBuildable reports whether a new computation may currently be scheduled:
// not disabled, not deleted, and no computation presently running.
func (c *ComputedContainer) isBuildable() bool {
	if c.disabled || c.deleted {
		return false
	}
	return c.current == nil || !c.current.IsLogUpdated()
}

// ScheduleBuild inserts a Computation into the host queue after delay.
// Returns false if the container is not currently buildable (spec §4.7).
func (c *ComputedContainer) ScheduleBuild(delay time.Duration, cause types.Cause) bool {
	c.mu.Lock()
	if !c.isBuildable() {
		c.mu.Unlock()
		metrics.ComputationsSkippedTotal.Inc()
		return false
	}
	c.mu.Unlock()

	c.Host.Enqueue(delay, func(ctx context.Context) {
		runCtx, cancel := context.WithCancel(ctx)
		comp := c.createExecutable(cause, cancel)
		defer func() {
			c.mu.Lock()
			if c.cancelRun != nil {
				c.cancelRun = nil
			}
			c.mu.Unlock()
			cancel()
		}()
		result, _ := comp.Run(runCtx, c.reconcileAdapter)
		c.mu.Lock()
		c.health.Update(result, time.Now(), health.DefaultConfig())
		c.mu.Unlock()
	})
	return true
}

// Health returns a snapshot of this container's build-health streak, fed
// from every Computation's terminal result.
func (c *ComputedContainer) Health() health.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.health
}

// createExecutable is called by the host when a queued item dispatches: it
// creates the new Computation, stores it as current, and carries the prior
// Computation's result forward as previousResult (spec §4.7).
func (c *ComputedContainer) createExecutable(cause types.Cause, cancel context.CancelFunc) *computation.Computation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var previous *types.Result
	if c.current != nil {
		if r, ok := c.current.Result(); ok {
			previous = &r
		}
	}

	comp := computation.New(c.FullName, c.RootDir, []types.Cause{cause}, c.history, computation.Config{FileCount: c.FileCount})
	comp.PreviousResult = previous
	c.current = comp
	c.cancelRun = cancel
	return comp
}

// GetComputation returns the latest Computation, which may still be
// running, or nil if none has ever run.
func (c *ComputedContainer) GetComputation() *computation.Computation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// LastComputationTimestamp reports when the most recent computation
// started, for pkg/trigger's almostInterval check. Returns false if no
// computation has ever run.
func (c *ComputedContainer) LastComputationTimestamp() (time.Time, bool) {
	c.mu.Lock()
	comp := c.current
	c.mu.Unlock()
	if comp == nil {
		return time.Time{}, false
	}
	return comp.Timestamp(), true
}

// reconcileAdapter implements computation.ReconcileFunc by running the full
// updateChildren algorithm of spec §4.5 step 3.
func (c *ComputedContainer) reconcileAdapter(ctx context.Context, listener *os.File) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	c.mu.Lock()
	currentNames := make([]string, 0, c.children.Len())
	for el := c.children.Front(); el != nil; el = el.Next() {
		currentNames = append(currentNames, el.Key)
	}
	c.mu.Unlock()

	obs := observer.NewReconciliationObserver(c.lookupChild, currentNames)
	defer obs.Close()

	discovered, err := c.Reconciler.ComputeChildren(ctx, obs, listener)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Anything still in obs.Orphaned() here was never claimed via
	// obs.ShouldUpdate by Reconciler.ComputeChildren, regardless of
	// whether discovered (below) also names it: see the contract on
	// ComputeChildren's doc comment.
	orphanedChildren := make(map[string]*types.Child)
	for _, name := range obs.Orphaned() {
		if rec, ok := c.children.Get(name); ok {
			orphanedChildren[name] = rec.Child
		}
	}
	toDelete := c.OrphanStrategy.SelectForDeletion(c.FullName, orphanedChildren, listener)
	for name := range toDelete {
		rec, ok := c.children.Get(name)
		if !ok {
			continue
		}
		c.children.Delete(name)
		if err := os.RemoveAll(c.Store.ChildRootDir(c.RootDir, rec)); err != nil {
			log.WithContainer(c.FullName).Warn().Err(err).Str("child", name).Msg("failed to remove orphaned child directory")
		}
		c.publish(events.TypeChildDeleted, name)
	}

	for name, child := range discovered {
		existing, had := c.children.Get(name)
		if !had {
			rec := &childstore.Record{BusinessName: name, DirName: c.ChildMangler.DirNameFromLegacy(c.FullName, name), Child: child}
			if err := c.Store.PersistChild(c.RootDir, rec); err != nil {
				return err
			}
			c.children.Set(name, rec)
			c.publish(events.TypeChildCreated, name)
			continue
		}
		if err := c.Reconciler.UpdateExistingItem(existing.Child, child); err != nil {
			return err
		}
		if err := c.Store.PersistChild(c.RootDir, existing); err != nil {
			return err
		}
		c.publish(events.TypeChildUpdated, name)
	}

	return nil
}

func (c *ComputedContainer) lookupChild(name string) (*types.Child, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupChildLocked(name)
}

func (c *ComputedContainer) lookupChildLocked(name string) (*types.Child, bool) {
	rec, ok := c.children.Get(name)
	if !ok {
		return nil, false
	}
	return rec.Child, true
}

// HandleChildEvent commits a single out-of-band child creation or update
// outside a full reconciliation cycle, e.g. a webhook notifying this
// container about one child without a computeChildren pass over all of
// them (spec §4.4's "Events observer" flavour, §4.7's
// openEventsChildObserver). Its Observer is seeded with an empty orphaned
// set and never drives deletion: only ComputeChildren's Reconciliation
// observer, run through reconcileAdapter, prunes children.
func (c *ComputedContainer) HandleChildEvent(ctx context.Context, name string, incoming *types.Child) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs := observer.NewEventsObserver(c.lookupChildLocked)
	defer obs.Close()

	existing, had, err := obs.ShouldUpdate(ctx, name)
	if err != nil {
		return err
	}
	defer obs.Completed(name)

	if !had {
		if !obs.MayCreate(name) {
			return nil
		}
		rec := &childstore.Record{BusinessName: name, DirName: c.ChildMangler.DirNameFromLegacy(c.FullName, name), Child: incoming}
		if err := c.Store.PersistChild(c.RootDir, rec); err != nil {
			return err
		}
		c.children.Set(name, rec)
		c.publish(events.TypeChildCreated, name)
		return nil
	}

	if err := c.Reconciler.UpdateExistingItem(existing, incoming); err != nil {
		return err
	}
	rec, _ := c.children.Get(name)
	if err := c.Store.PersistChild(c.RootDir, rec); err != nil {
		return err
	}
	c.publish(events.TypeChildUpdated, name)
	return nil
}

// OnDeleted removes child from the map without cascading further deletion
// (spec §4.7).
func (c *ComputedContainer) OnDeleted(childName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children.Delete(childName)
}

// OnRenamed is not supported on a computed container: its children are
// authoritatively computed, so no caller may rename one directly (spec
// §4.7). Renaming the container itself is handled by the host, outside
// this type.
func (c *ComputedContainer) OnRenamed(_, _, _ string) error {
	return ErrUnsupported
}

// AddDescendant registers a nested container so Delete can cascade into it.
func (c *ComputedContainer) AddDescendant(child *ComputedContainer) {
	c.mu.Lock()
	c.descendants = append(c.descendants, child)
	c.mu.Unlock()

	child.mu.Lock()
	child.parent = c
	child.mu.Unlock()
}

// Delete interrupts the running build, if any, of this container and of
// every descendant, waiting for each to finish, and marks descendants
// deleted depth-first before marking itself deleted; a deleted container
// refuses further ScheduleBuild calls. Interrupted descendant computations
// observe an OrphanedParent cause. Delete does not cancel tasks already
// handed to Host.Enqueue (such a task still runs when the host dispatches
// it) and does not remove any directory from disk.
func (c *ComputedContainer) Delete() error {
	return c.deleteCascade(c.FullName, false)
}

// deleteCascade does the work of Delete, threading triggeredBy down to
// descendants so their interrupted builds can be tagged with an
// OrphanedParent cause naming the container that started the cascade
// (spec §4.7). orphaned is false for the container Delete was called on
// and true for every descendant.
func (c *ComputedContainer) deleteCascade(triggeredBy string, orphaned bool) error {
	c.mu.Lock()
	descendants := append([]*ComputedContainer(nil), c.descendants...)
	c.mu.Unlock()

	for _, d := range descendants {
		if err := d.deleteCascade(triggeredBy, true); err != nil {
			return err
		}
	}

	if err := c.interruptAndWait(triggeredBy, orphaned); err != nil {
		return err
	}

	c.mu.Lock()
	c.deleted = true
	c.mu.Unlock()

	c.publish(events.TypeContainerDeleted, "")
	return nil
}

func (c *ComputedContainer) interruptAndWait(triggeredBy string, orphaned bool) error {
	c.mu.Lock()
	comp := c.current
	cancel := c.cancelRun
	c.mu.Unlock()

	if comp == nil || !comp.IsLogUpdated() {
		return nil
	}
	if orphaned {
		comp.AppendCause(types.OrphanedParentCause{Parent: triggeredBy})
	}
	if cancel != nil {
		cancel()
	}

	deadline := time.Now().Add(deleteTimeout)
	for time.Now().Before(deadline) {
		if comp.IsLogUpdated() {
			time.Sleep(deletePollInterval)
			continue
		}
		return nil
	}
	if !comp.IsLogUpdated() {
		return nil
	}
	return types.NewError(types.KindTransientIO, ErrBuildsDidNotStop)
}

func (c *ComputedContainer) publish(evType events.Type, message string) {
	if c.Broker != nil {
		c.Broker.Publish(&events.Event{
			Type:      evType,
			Container: c.FullName,
			Message:   message,
		})
	}
	if c.EventWriter != nil {
		stream := c.EventWriter.OpenStream()
		fmt.Fprintf(stream, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339), evType, message)
		_ = stream.Close()
	}
}

// Parent implements queuegate.Ancestry: it returns the owning container,
// if any, so the gate can walk up the full chain.
func (c *ComputedContainer) Parent() (queuegate.Ancestry, bool) {
	c.mu.Lock()
	parent := c.parent
	c.mu.Unlock()
	if parent == nil {
		return nil, false
	}
	return parent, true
}

// ChildCount reports how many children are currently tracked.
func (c *ComputedContainer) ChildCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.children.Len()
}
