package prom

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sheetdb/internal/metrics"
)

func TestBackend_CountsOperations(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	metrics.RecordOperation(b, "PRODUCT", "create", "success", 10*time.Millisecond)
	metrics.RecordOperation(b, "PRODUCT", "create", "success", 10*time.Millisecond)
	metrics.RecordOperation(b, "PRODUCT", "read", "not_found", time.Millisecond)

	ok := b.counters[metrics.OperationsTotal].WithLabelValues("PRODUCT", "create", "success")
	assert.Equal(t, 2.0, testutil.ToFloat64(ok))
	missing := b.counters[metrics.OperationsTotal].WithLabelValues("PRODUCT", "read", "not_found")
	assert.Equal(t, 1.0, testutil.ToFloat64(missing))
}

func TestBackend_IgnoresUnknownNames(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		b.IncCounter("nope_total", 1, nil)
		b.ObserveHistogram("nope_seconds", 1, nil)
	})
}

func TestBackend_Handler(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	metrics.RecordCacheLookup(b, "CATEGORY", true)
	metrics.RecordLockWait(b, "CATEGORY", time.Millisecond, false)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `sheetdb_cache_lookups_total{result="hit",table="CATEGORY"} 1`), text)
	assert.Contains(t, text, "sheetdb_lock_wait_seconds_bucket")
}

func TestNew_IndependentRegistries(t *testing.T) {
	_, err := New()
	require.NoError(t, err)
	_, err = New()
	assert.NoError(t, err)
}
