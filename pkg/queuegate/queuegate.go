// Package queuegate implements the Queue Gate: a host-queue decision hook
// that refuses to schedule a task if any ancestor container in its chain
// is disabled (spec §4.11).
package queuegate

import "github.com/cuemby/grove/pkg/metrics"

// Ancestry is the minimal view of a container chain the gate needs to walk.
type Ancestry interface {
	IsDisabled() bool
	Parent() (Ancestry, bool)
}

// Allow walks up from owner through every ancestor; it returns false as
// soon as any of them is disabled, true if none are.
func Allow(owner Ancestry) bool {
	current, ok := owner, true
	for ok {
		if current.IsDisabled() {
			metrics.QueueGateBlockedTotal.Inc()
			return false
		}
		current, ok = current.Parent()
	}
	return true
}
