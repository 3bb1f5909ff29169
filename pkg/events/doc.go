/*
Package events provides an in-memory event bus for grove's Computed
Container to broadcast out-of-band activity.

# Architecture

	Publisher → event channel (buffer 100) → broadcast loop → subscriber
	channels (buffer 50 each, non-blocking, full buffers skip)

# Event Types

ComputedContainer publishes child.created / child.updated / child.deleted
as reconciliation or an out-of-band child event changes its child map, and
container.disabled / container.enabled / container.deleted for its own
lifecycle. child.observed and computation.ran are declared here but are not
published by ComputedContainer.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Container, ev.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.TypeChildDeleted, Container: "team/legacy-branch"})

Delivery is best-effort and non-blocking: a subscriber with a full buffer
silently misses events rather than stalling the publisher. Callers that need
a durable record of activity should consult pkg/eventlog instead: a
ComputedContainer with its event log enabled writes each event it publishes
to its eventlog.Writer directly, independently of this broker.
*/
package events
