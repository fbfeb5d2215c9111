package testutil

import (
	"fmt"
	"sync"
)

// FixedRequestIDGenerator generates request ids from a fixed prefix and a
// counter, so envelope output is byte-identical across runs.
//
// Unlike api.UUIDv7Generator, the sequence restarts for every generator.
//
// Thread-safety: FixedRequestIDGenerator is safe for concurrent use via
// internal mutex.
type FixedRequestIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedRequestIDGenerator creates a generator. If prefix is empty,
// "test-request" is used.
func NewFixedRequestIDGenerator(prefix string) *FixedRequestIDGenerator {
	if prefix == "" {
		prefix = "test-request"
	}
	return &FixedRequestIDGenerator{prefix: prefix}
}

// Generate returns "<prefix>-0001", "<prefix>-0002", ...
func (g *FixedRequestIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
