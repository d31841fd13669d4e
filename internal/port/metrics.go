package port

// Metrics is a fire-and-forget sink for operation counters and
// latencies. Implementations must never block or fail the caller.
type Metrics interface {
	ObserveRequest(route, code string, seconds float64)
	ObserveCacheOp(op, result string, seconds float64)
	ObserveStoreOp(op, result string, seconds float64)
}
