// Package broadcast implements the counter fan-out engine.
//
// The Registry holds one Sink per connected streaming client behind a single
// mutex. The Dispatcher is the only consumer of the listener's ordered update
// channel: for each update it snapshots the Registry and offers the value to
// every sink without blocking, evicting sinks that cannot take it. QueueSink
// is the bounded-queue Sink both stream adapters drain.
package broadcast
