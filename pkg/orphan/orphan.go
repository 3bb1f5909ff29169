// Package orphan implements the Orphan Strategy: the policy that decides
// which children a Computed Container should delete once a reconciliation
// run's computeChildren no longer reports them (spec §4.6).
package orphan

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/metrics"
	"github.com/cuemby/grove/pkg/types"
)

// Strategy decides which orphaned children to delete.
type Strategy interface {
	// SelectForDeletion returns the subset of orphaned to delete. owner
	// identifies the container for logging; listener receives a human
	// readable trace of why each candidate was kept or marked.
	SelectForDeletion(owner string, orphaned map[string]*types.Child, listener io.Writer) map[string]struct{}
}

// DefaultStrategy is the stock policy: it marks for deletion every candidate
// beyond the newest NumToKeep and, additionally, every candidate whose last
// build is older than DaysToKeep days, so a child survives only if it passes
// every bound that is set. A child whose build is in progress or pinned is
// never deleted.
type DefaultStrategy struct {
	Prune      bool
	NumToKeep  int // types.UnlimitedRetention (-1) for unlimited
	DaysToKeep int // types.UnlimitedRetention (-1) for unlimited
}

// SelectForDeletion implements Strategy per spec §4.6.
func (s DefaultStrategy) SelectForDeletion(owner string, orphaned map[string]*types.Child, listener io.Writer) map[string]struct{} {
	logger := log.WithContainer(owner)
	out := make(map[string]struct{})

	if !s.Prune || (s.NumToKeep == types.UnlimitedRetention && s.DaysToKeep == types.UnlimitedRetention) {
		return out
	}

	type candidate struct {
		name  string
		child *types.Child
	}
	candidates := make([]candidate, 0, len(orphaned))
	for name, child := range orphaned {
		if child.Building {
			logf(listener, "keeping %s: build in progress", name)
			continue
		}
		if child.Kept {
			logf(listener, "keeping %s: pinned build", name)
			continue
		}
		candidates = append(candidates, candidate{name: name, child: child})
	}

	// Sort descending by last build time; ties broken stably by name so
	// the outcome is deterministic across runs (spec: "ties are broken
	// stably").
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := candidates[i].child.LastBuildTime, candidates[j].child.LastBuildTime
		if ti.Equal(tj) {
			return candidates[i].name < candidates[j].name
		}
		return ti.After(tj)
	})

	if s.NumToKeep >= 0 {
		for i := s.NumToKeep; i < len(candidates); i++ {
			out[candidates[i].name] = struct{}{}
			logf(listener, "marking %s for deletion: beyond numToKeep=%d", candidates[i].name, s.NumToKeep)
			metrics.OrphansDeletedTotal.WithLabelValues("num_to_keep").Inc()
		}
	}

	if s.DaysToKeep >= 0 {
		cutoff := time.Now().Add(-time.Duration(s.DaysToKeep) * 24 * time.Hour)
		for _, c := range candidates {
			if c.child.LastBuildTime.Before(cutoff) {
				if _, already := out[c.name]; !already {
					logf(listener, "marking %s for deletion: older than daysToKeep=%d", c.name, s.DaysToKeep)
					metrics.OrphansDeletedTotal.WithLabelValues("days_to_keep").Inc()
				}
				out[c.name] = struct{}{}
			}
		}
	}

	if len(out) > 0 {
		logger.Info().Int("count", len(out)).Str("owner", owner).Msg("orphan strategy selected children for deletion")
	}
	return out
}

func logf(listener io.Writer, format string, args ...any) {
	if listener == nil {
		return
	}
	_, _ = io.WriteString(listener, fmt.Sprintf(format, args...)+"\n")
}
