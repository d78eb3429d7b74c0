// Package bus implements the process-local message broker and the per-service
// client used by every long-running service in the pipeline.
//
// The broker keeps one bounded FIFO queue per registered subscriber and fans
// published envelopes out to every subscriber registered at publish time,
// excluding the originator. Publishing never blocks: when a subscriber's queue
// is full the newest envelope is dropped for that subscriber only and its drop
// counter is incremented. A stalled subscriber therefore affects nothing but
// its own queue.
//
// Bus is an explicit interface so a networked broker could later implement the
// same contract without touching callers.
package bus
