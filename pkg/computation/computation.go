// Package computation implements a Computation: one reconciliation run of a
// Computed Container, modeled as the NEW -> PENDING -> RUNNING -> DONE state
// machine from spec §4.5.
package computation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/grove/pkg/eventlog"
	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/metrics"
	"github.com/cuemby/grove/pkg/types"
)

// historySize bounds the rolling duration history used to estimate the
// next run's length (spec §4.5 step 5: "truncating the head to keep
// length <= 32").
const historySize = 32

// LogFileName and ConfigFileName are the two on-disk artifacts a
// Computation leaves under <container.rootDir>/computation/.
const (
	LogFileName    = "computation.log"
	ConfigFileName = "computation.xml"
)

// ReconcileFunc is the host-supplied container.updateChildren(listener)
// hook (spec §4.5 step 3): it owns the Reconciliation observer, the
// computeChildren/Orphan Strategy dance and the child map mutation.
// Computation only orchestrates around it — logging, timing, result
// classification and persistence.
type ReconcileFunc func(ctx context.Context, listener *os.File) error

// History is the rolling record of past run durations, capped at
// historySize entries, oldest first. A History loaded from a HistoryStore
// persists every append so the estimate survives a restart.
type History struct {
	mu      sync.Mutex
	entries []time.Duration

	store     *HistoryStore
	container string
}

func (h *History) append(d time.Duration) {
	h.mu.Lock()
	h.entries = append(h.entries, d)
	if len(h.entries) > historySize {
		h.entries = h.entries[len(h.entries)-historySize:]
	}
	store, container, snapshot := h.store, h.container, append([]time.Duration(nil), h.entries...)
	h.mu.Unlock()

	if store != nil {
		if err := store.persist(container, snapshot); err != nil {
			log.WithComponent("computation").Warn().Err(err).Str("container", container).Msg("failed to persist duration history")
		}
	}
}

// Estimate returns the arithmetic mean of the recorded durations, or -1 if
// none have been recorded yet (spec §4.5: "Estimated duration ... -1 when
// empty").
func (h *History) Estimate() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return -1
	}
	var sum time.Duration
	for _, d := range h.entries {
		sum += d
	}
	return sum / time.Duration(len(h.entries))
}

// Snapshot returns a copy of the recorded durations, oldest first.
func (h *History) Snapshot() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Duration, len(h.entries))
	copy(out, h.entries)
	return out
}

// Config tunes a Computation's on-disk log behavior.
type Config struct {
	// FileCount is the backup-rotation count for computation.log; 0
	// disables rotation (spec §4.5 step 1).
	FileCount int
}

// Computation is a single reconciliation run belonging to one container,
// identified by its full name for logging purposes.
type Computation struct {
	// ID uniquely identifies this run for log correlation; carried in
	// every log line pkg/log's WithComputation emits.
	ID            string
	ContainerName string
	RootDir       string // <container.rootDir>; log/config live under RootDir/computation/
	Causes        []types.Cause
	Cfg           Config
	History       *History

	// PreviousResult carries the prior Computation's final result, set by
	// the container at creation time (spec §4.7 createExecutable: "keeping
	// its result as the new Computation's previousResult").
	PreviousResult *types.Result

	mu        sync.Mutex
	timestamp time.Time
	duration  time.Duration
	result    *types.Result // nil while running: the isLogUpdated() signal
}

// New creates a Computation scoped to one container run.
func New(containerName, rootDir string, causes []types.Cause, history *History, cfg Config) *Computation {
	if history == nil {
		history = &History{}
	}
	return &Computation{
		ID:            uuid.NewString(),
		ContainerName: containerName,
		RootDir:       rootDir,
		Causes:        causes,
		Cfg:           cfg,
		History:       history,
	}
}

// AppendCause adds an additional cause to the run, e.g. an OrphanedParent
// cause attached by a cascading delete while the run is still in flight.
func (c *Computation) AppendCause(cause types.Cause) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Causes = append(c.Causes, cause)
}

// IsLogUpdated reports whether the run is still in progress: the canonical
// liveness signal from spec §4.5 ("isLogUpdated() == result == none").
func (c *Computation) IsLogUpdated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result == nil
}

// Result returns the final result, or (zero, false) while still running.
func (c *Computation) Result() (types.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return "", false
	}
	return *c.result, true
}

// Timestamp returns when the run started.
func (c *Computation) Timestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// Duration returns how long the run took. Zero while still running.
func (c *Computation) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *Computation) logDir() string     { return filepath.Join(c.RootDir, "computation") }
func (c *Computation) logPath() string    { return filepath.Join(c.logDir(), LogFileName) }
func (c *Computation) configPath() string { return filepath.Join(c.logDir(), ConfigFileName) }

// Run executes the full state-machine algorithm of spec §4.5: rotate the
// log, record the start timestamp, invoke reconcile, classify the outcome,
// append to the rolling duration history, close the listener and only then
// publish the final result and persist the record.
func (c *Computation) Run(ctx context.Context, reconcile ReconcileFunc) (types.Result, error) {
	logger := log.WithComputation(c.ContainerName, c.ID)
	logger.Debug().Msg("computation starting")

	if err := os.MkdirAll(c.logDir(), 0o755); err != nil {
		return types.ResultNotBuilt, types.NewError(types.KindTransientIO, err)
	}

	if err := eventlog.Rotate(c.logPath(), c.Cfg.FileCount); err != nil && !os.IsNotExist(err) {
		return types.ResultNotBuilt, types.NewError(types.KindTransientIO, err)
	}

	listener, err := os.OpenFile(c.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return types.ResultNotBuilt, types.NewError(types.KindTransientIO, err)
	}

	c.mu.Lock()
	c.timestamp = time.Now()
	c.mu.Unlock()

	reconcileErr := reconcile(ctx, listener)

	outcome := classify(ctx, reconcileErr)

	elapsed := time.Since(c.timestamp)
	c.mu.Lock()
	c.duration = elapsed
	c.mu.Unlock()
	c.History.append(elapsed)

	closeErr := listener.Close()

	c.mu.Lock()
	result := outcome
	c.result = &result
	c.mu.Unlock()

	metrics.ComputationDuration.WithLabelValues(string(result)).Observe(elapsed.Seconds())
	metrics.ComputationsTotal.WithLabelValues(string(result)).Inc()
	logger.Info().Str("result", string(result)).Dur("elapsed", elapsed).Msg("computation finished")

	if err := c.persist(result, elapsed, reconcileErr); err != nil {
		return result, types.NewError(types.KindTransientIO, err)
	}
	if closeErr != nil {
		return result, types.NewError(types.KindTransientIO, closeErr)
	}
	return result, reconcileErr
}

// classify maps the reconcile outcome onto the terminal states of spec
// §4.5's state machine: cancellation -> ABORTED, any other error ->
// FAILURE, otherwise SUCCESS.
func classify(ctx context.Context, err error) types.Result {
	if err == nil {
		return types.ResultSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.ResultAborted
	}
	var typedErr *types.Error
	if errors.As(err, &typedErr) && typedErr.Kind == types.KindCancelled {
		return types.ResultAborted
	}
	if ctx != nil && ctx.Err() != nil {
		return types.ResultAborted
	}
	return types.ResultFailure
}

func (c *Computation) persist(result types.Result, duration time.Duration, reconcileErr error) error {
	causes := make([]string, 0, len(c.Causes))
	for _, cause := range c.Causes {
		causes = append(causes, cause.Describe())
	}

	history := c.History.Snapshot()
	historyMillis := make([]int64, len(history))
	for i, d := range history {
		historyMillis[i] = d.Milliseconds()
	}

	rec := record{
		Timestamp:      c.Timestamp().UnixMilli(),
		DurationMillis: duration.Milliseconds(),
		Result:         string(result),
		Causes:         causes,
		History:        historyMillis,
	}

	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	tmp := c.configPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.configPath())
}

// LogPath returns the path a log reader should open for this computation.
func (c *Computation) LogPath() string { return c.logPath() }

// ErrNoSuchLog is the sentinel the caller maps onto spec §4.5's "No such
// file: <name>" placeholder response for an absent log file.
var ErrNoSuchLog = errors.New("computation: no such log file")

// PlaceholderForMissingLog renders the literal text spec §4.5 says log
// readers must serve — with a 200 status, by the caller's convention —
// when the primary log file does not exist yet.
func PlaceholderForMissingLog(name string) string {
	return fmt.Sprintf("No such file: %s", name)
}
