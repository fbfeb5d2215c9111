// Package metrics records operational metrics from the data engine.
//
// The engine depends only on Backend. The default backend is a no-op, so
// instrumentation is always safe to call; the prom subpackage adapts it to
// Prometheus.
package metrics

import (
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by the engine.
const (
	OperationsTotal   = "sheetdb_operations_total"
	OperationDuration = "sheetdb_operation_duration_seconds"
	LockWaitSeconds   = "sheetdb_lock_wait_seconds"
	CacheLookups      = "sheetdb_cache_lookups_total"
	IntegrityRepairs  = "sheetdb_integrity_repairs_total"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}

// Nop returns a backend that discards everything.
func Nop() Backend {
	return nopBackend{}
}

// OrNop returns b, or the no-op backend when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return nopBackend{}
	}
	return b
}

// RecordOperation counts one engine operation and its latency.
// status is "success", "not_found", "invalid", "lock_timeout" or "failure".
func RecordOperation(b Backend, table, op, status string, d time.Duration) {
	lbls := Labels{
		"table":  table,
		"op":     op,
		"status": status,
	}
	b.IncCounter(OperationsTotal, 1, lbls)
	b.ObserveHistogram(OperationDuration, d.Seconds(), lbls)
}

// RecordLockWait records how long a writer waited for a table lock.
func RecordLockWait(b Backend, table string, waited time.Duration, timedOut bool) {
	outcome := "acquired"
	if timedOut {
		outcome = "timeout"
	}
	b.ObserveHistogram(LockWaitSeconds, waited.Seconds(), Labels{
		"table":   table,
		"outcome": outcome,
	})
}

// RecordCacheLookup counts a cached read as a hit or a miss.
func RecordCacheLookup(b Backend, table string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	b.IncCounter(CacheLookups, 1, Labels{
		"table":  table,
		"result": result,
	})
}

// RecordIntegrityRepairs counts junction rows moved to history by an
// integrity check.
func RecordIntegrityRepairs(b Backend, junction string, n int) {
	if n <= 0 {
		return
	}
	b.IncCounter(IntegrityRepairs, float64(n), Labels{
		"table": junction,
	})
}
