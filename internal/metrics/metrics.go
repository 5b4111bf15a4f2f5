// Package metrics exposes join-cycle instrumentation. Components depend on the
// Collector interface; NewPrometheus backs it with client_golang and NewNop
// discards everything.
package metrics

// Collector receives join-cycle measurements.
type Collector interface {
	// RecordJoin counts one settled join attempt by join log status.
	RecordJoin(status string)
	// ObserveJoinLatency records the duration of one platform join call.
	ObserveJoinLatency(seconds float64)
	// RecordFloodWait records a rate-limit wait signalled by the platform.
	RecordFloodWait(seconds float64)
	// RecordReplacement counts a dead link swap; found is false when the
	// reserve was empty.
	RecordReplacement(found bool)
	// SetActiveWorkers reports the number of session units running.
	SetActiveWorkers(n int)
	// RecordCycle counts a finished cycle by result and records its duration.
	RecordCycle(result string, seconds float64)
	// RecordDistributed counts links bound by a distribution pass.
	RecordDistributed(n int)
	// SetBacklog publishes the store totals seen by the last stats read.
	SetBacklog(reserve, dead, pending int)
}
