// Package health tracks dependent-service health and gates calls to
// unreliable services behind circuit breakers.
//
// The Monitor probes each enabled service on its own interval with a bounded
// timeout, records response times and consecutive failures, and raises alert
// callbacks on status transitions. Breakers follow the classic three-state
// machine: Closed counts consecutive call failures and opens at the
// threshold; Open short-circuits every call until the recovery timeout
// elapses; HalfOpen admits exactly one trial call whose outcome decides
// between Closed and Open. Breaker timing uses explicit tagged state plus
// timestamps, never ad hoc booleans.
//
// System-resource checks (CPU, memory, disk) run on the same cycle and raise
// alerts but never open a breaker: there is no remote call to gate.
package health
