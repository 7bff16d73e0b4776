package exchange

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Manager tracks the sink handles created for each running query so that a
// failed query can abort them and, during cleanup, release their readers.
type Manager struct {
	capacity Capacity
	logger   *slog.Logger

	mu      sync.Mutex
	queries map[string][]*LocalSinkHandle
}

// NewManager creates a manager whose sinks use the given capacity.
func NewManager(capacity Capacity) *Manager {
	return &Manager{
		capacity: capacity,
		logger:   slog.Default().With("component", "exchange-manager"),
		queries:  make(map[string][]*LocalSinkHandle),
	}
}

// NewQueryID returns a fresh query id.
func NewQueryID() string { return uuid.NewString() }

// CreateSink creates an unpartitioned sink owned by queryID.
func (m *Manager) CreateSink(queryID string) *LocalSinkHandle {
	return m.register(queryID, newSinkHandle(queryID, 1, m.capacity))
}

// CreatePartitionedSink creates a sink with n partitions owned by queryID.
func (m *Manager) CreatePartitionedSink(queryID string, n int) (*LocalSinkHandle, error) {
	if n < 1 {
		return nil, fmt.Errorf("partitioned sink needs at least one partition, got %d", n)
	}
	return m.register(queryID, newSinkHandle(queryID, n, m.capacity)), nil
}

func (m *Manager) register(queryID string, h *LocalSinkHandle) *LocalSinkHandle {
	m.mu.Lock()
	m.queries[queryID] = append(m.queries[queryID], h)
	m.mu.Unlock()
	return h
}

// Sinks returns the sink handles registered for queryID.
func (m *Manager) Sinks(queryID string) []*LocalSinkHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*LocalSinkHandle(nil), m.queries[queryID]...)
}

// AbortQuery aborts every sink of the query. Readers stay blocked until
// ReleaseQuery runs.
func (m *Manager) AbortQuery(queryID string) {
	for _, h := range m.Sinks(queryID) {
		h.Abort()
	}
}

// ReleaseQuery is the cleanup step for a failed query: it aborts any sink
// still open, releases readers held by the abort with cause, and forgets
// the query's sinks.
func (m *Manager) ReleaseQuery(queryID string, cause error) {
	sinks := m.forget(queryID)
	for _, h := range sinks {
		h.Abort()
		h.ReleaseReaders(cause)
	}
	m.logger.Info("released failed query", "query", queryID, "sinks", len(sinks), "cause", cause)
}

// CloseQuery closes the query's sinks after a successful run and forgets them.
func (m *Manager) CloseQuery(queryID string) {
	for _, h := range m.forget(queryID) {
		h.Close()
	}
}

func (m *Manager) forget(queryID string) []*LocalSinkHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	sinks := m.queries[queryID]
	delete(m.queries, queryID)
	return sinks
}
