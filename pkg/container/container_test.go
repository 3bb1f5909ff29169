package container

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/grove/pkg/eventlog"
	"github.com/cuemby/grove/pkg/mangler"
	"github.com/cuemby/grove/pkg/observer"
	"github.com/cuemby/grove/pkg/orphan"
	"github.com/cuemby/grove/pkg/queuegate"
	"github.com/cuemby/grove/pkg/types"
)

// syncHost runs enqueued tasks synchronously, inline, so tests don't need
// to wait on goroutines.
type syncHost struct{}

func (syncHost) Enqueue(delay time.Duration, task func(ctx context.Context)) func() {
	task(context.Background())
	return func() {}
}

// asyncHost runs tasks on a goroutine, for tests exercising cancellation.
type asyncHost struct{}

func (asyncHost) Enqueue(delay time.Duration, task func(ctx context.Context)) func() {
	go task(context.Background())
	return func() {}
}

type fakeReconciler struct {
	mu        sync.Mutex
	discover  map[string]*types.Child
	err       error
	blockCh   chan struct{} // if set, ComputeChildren blocks reading ctx.Done()
	callCount int
}

func (f *fakeReconciler) ComputeChildren(ctx context.Context, obs *observer.Observer, listener io.Writer) (map[string]*types.Child, error) {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()

	if f.blockCh != nil {
		close(f.blockCh)
		<-ctx.Done()
		return nil, types.NewError(types.KindCancelled, ctx.Err())
	}
	return f.discover, f.err
}

func (f *fakeReconciler) UpdateExistingItem(existing, replacement *types.Child) error {
	existing.State = replacement.State
	return nil
}

// claimingReconciler drives the observer the way a conforming Reconciler
// must: it calls obs.ShouldUpdate for every name it intends to keep before
// returning discover. A name left out of keep is never claimed, so it
// stays in obs.Orphaned() even if discover also names it.
type claimingReconciler struct {
	keep     []string
	discover map[string]*types.Child
}

func (r *claimingReconciler) ComputeChildren(ctx context.Context, obs *observer.Observer, listener io.Writer) (map[string]*types.Child, error) {
	for _, name := range r.keep {
		if _, _, err := obs.ShouldUpdate(ctx, name); err != nil {
			return nil, err
		}
		obs.Completed(name)
	}
	return r.discover, nil
}

func (r *claimingReconciler) UpdateExistingItem(existing, replacement *types.Child) error {
	existing.State = replacement.State
	return nil
}

func newTestContainer(t *testing.T, host Host, r *fakeReconciler) *ComputedContainer {
	t.Helper()
	root := t.TempDir()
	c := New("team/app", root, r, host, mangler.DefaultMangler{}, orphan.DefaultStrategy{})
	require.NoError(t, c.Load())
	return c
}

func TestScheduleBuild_CreatesChildrenOnDiscovery(t *testing.T) {
	r := &fakeReconciler{discover: map[string]*types.Child{
		"alpha": {BusinessName: "alpha", State: []byte("x")},
	}}
	c := newTestContainer(t, syncHost{}, r)

	ok := c.ScheduleBuild(0, types.TimerCause{})
	assert.True(t, ok)
	assert.Equal(t, 1, c.ChildCount())

	comp := c.GetComputation()
	require.NotNil(t, comp)
	result, ok := comp.Result()
	require.True(t, ok)
	assert.Equal(t, types.ResultSuccess, result)
}

func TestScheduleBuild_FalseWhenDisabled(t *testing.T) {
	c := newTestContainer(t, syncHost{}, &fakeReconciler{})
	c.MakeDisabled(true)
	assert.False(t, c.ScheduleBuild(0, types.TimerCause{}))
}

func TestScheduleBuild_FalseWhileAlreadyRunning(t *testing.T) {
	block := make(chan struct{})
	r := &fakeReconciler{blockCh: block}
	c := newTestContainer(t, asyncHost{}, r)

	ok := c.ScheduleBuild(0, types.TimerCause{})
	require.True(t, ok)

	<-block // first run is now blocked inside ComputeChildren
	assert.False(t, c.ScheduleBuild(0, types.TimerCause{}))

	// Unblock so the goroutine doesn't leak past the test.
	comp := c.GetComputation()
	require.NotNil(t, comp)
	_ = c.Delete()
	require.Eventually(t, func() bool { return !comp.IsLogUpdated() }, time.Second, 5*time.Millisecond)
}

func TestCreateExecutable_CarriesPreviousResult(t *testing.T) {
	r := &fakeReconciler{discover: map[string]*types.Child{}}
	c := newTestContainer(t, syncHost{}, r)

	require.True(t, c.ScheduleBuild(0, types.TimerCause{}))
	first := c.GetComputation()
	firstResult, _ := first.Result()

	require.True(t, c.ScheduleBuild(0, types.TimerCause{}))
	second := c.GetComputation()
	require.NotNil(t, second.PreviousResult)
	assert.Equal(t, firstResult, *second.PreviousResult)
}

func TestDelete_InterruptsRunningBuild(t *testing.T) {
	block := make(chan struct{})
	r := &fakeReconciler{blockCh: block}
	c := newTestContainer(t, asyncHost{}, r)

	require.True(t, c.ScheduleBuild(0, types.TimerCause{}))
	<-block

	comp := c.GetComputation()
	require.NoError(t, c.Delete())
	require.Eventually(t, func() bool { return !comp.IsLogUpdated() }, time.Second, 5*time.Millisecond)

	result, ok := comp.Result()
	require.True(t, ok)
	assert.Equal(t, types.ResultAborted, result)
}

func TestDelete_CascadeTagsDescendantBuildsWithOrphanedParentCause(t *testing.T) {
	block := make(chan struct{})
	r := &fakeReconciler{blockCh: block}
	parent := newTestContainer(t, syncHost{}, &fakeReconciler{})
	child := newTestContainer(t, asyncHost{}, r)
	parent.AddDescendant(child)

	require.True(t, child.ScheduleBuild(0, types.TimerCause{}))
	<-block

	comp := child.GetComputation()
	require.NoError(t, parent.Delete())
	require.Eventually(t, func() bool { return !comp.IsLogUpdated() }, time.Second, 5*time.Millisecond)

	found := false
	for _, cause := range comp.Causes {
		if oc, ok := cause.(types.OrphanedParentCause); ok && oc.Parent == parent.FullName {
			found = true
		}
	}
	assert.True(t, found, "expected an OrphanedParentCause naming %s", parent.FullName)
}

func TestDelete_CascadesDepthFirstToDescendants(t *testing.T) {
	parent := newTestContainer(t, syncHost{}, &fakeReconciler{})
	child := newTestContainer(t, syncHost{}, &fakeReconciler{})
	parent.AddDescendant(child)

	require.NoError(t, parent.Delete())
	assert.True(t, child.deleted)
	assert.True(t, parent.deleted)
}

func TestOnRenamed_IsUnsupported(t *testing.T) {
	c := newTestContainer(t, syncHost{}, &fakeReconciler{})
	err := c.OnRenamed("alpha", "old", "new")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEnableEventLog_PublishWritesEventLine(t *testing.T) {
	c := newTestContainer(t, syncHost{}, &fakeReconciler{})
	c.EnableEventLog(eventlog.DefaultConfig())
	defer c.EventWriter.Close()

	c.MakeDisabled(true)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(c.RootDir, "computation", "events.log"))
		return err == nil && len(data) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestQueueGate_BlockedWhenAncestorDisabled(t *testing.T) {
	parent := newTestContainer(t, syncHost{}, &fakeReconciler{})
	child := newTestContainer(t, syncHost{}, &fakeReconciler{})
	parent.AddDescendant(child)

	assert.True(t, queuegate.Allow(child))
	parent.MakeDisabled(true)
	assert.False(t, queuegate.Allow(child))
}

func TestReconcileAdapter_PrunesChildNeverClaimedByShouldUpdate(t *testing.T) {
	r := &claimingReconciler{
		keep:     []string{"alpha"},
		discover: map[string]*types.Child{"alpha": {BusinessName: "alpha"}},
	}
	root := t.TempDir()
	strategy := orphan.DefaultStrategy{Prune: true, NumToKeep: 0, DaysToKeep: types.UnlimitedRetention}
	c := New("team/app", root, r, syncHost{}, mangler.DefaultMangler{}, strategy)
	require.NoError(t, c.Load())

	require.True(t, c.ScheduleBuild(0, types.TimerCause{}))
	require.Equal(t, 1, c.ChildCount(), "alpha should be kept: ComputeChildren claimed it via ShouldUpdate")

	// Second cycle: computeChildren no longer discovers alpha at all
	// (spec scenario S3). It stays in obs.Orphaned() and the orphan
	// strategy (NumToKeep: 0) must prune it through the real reconcile
	// path, not just in orphan_test.go's isolated unit test.
	r.keep = nil
	r.discover = map[string]*types.Child{}
	require.True(t, c.ScheduleBuild(0, types.TimerCause{}))
	assert.Equal(t, 0, c.ChildCount(), "alpha is no longer discovered and must be pruned as orphaned")
}

func TestHandleChildEvent_CreatesThenUpdatesWithoutOrphaning(t *testing.T) {
	c := newTestContainer(t, syncHost{}, &fakeReconciler{})

	require.NoError(t, c.HandleChildEvent(context.Background(), "alpha", &types.Child{BusinessName: "alpha", State: []byte("v1")}))
	require.Equal(t, 1, c.ChildCount())

	require.NoError(t, c.HandleChildEvent(context.Background(), "alpha", &types.Child{BusinessName: "alpha", State: []byte("v2")}))
	assert.Equal(t, 1, c.ChildCount())

	child, ok := c.lookupChild("alpha")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), child.State)
}

func TestOnDeleted_RemovesWithoutCascade(t *testing.T) {
	r := &fakeReconciler{discover: map[string]*types.Child{"alpha": {BusinessName: "alpha"}}}
	c := newTestContainer(t, syncHost{}, r)
	require.True(t, c.ScheduleBuild(0, types.TimerCause{}))
	require.Equal(t, 1, c.ChildCount())

	c.OnDeleted("alpha")
	assert.Equal(t, 0, c.ChildCount())
}
