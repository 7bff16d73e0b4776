// Package exchange implements the bounded, partitioned buffers that move
// DataBlocks from a producing fragment to its consumers.
package exchange

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/metrics"
)

// DefaultPartition is the lane used by unpartitioned sends.
const DefaultPartition = 0

var (
	// ErrAborted is returned to readers of an aborted sink once the failed
	// query has been cleaned up.
	ErrAborted = errors.New("exchange aborted")

	// ErrInvalidPartition is returned when sending to a lane the sink does not have.
	ErrInvalidPartition = errors.New("invalid partition")
)

// State is the lifecycle state of a sink handle.
type State int32

const (
	StateOpen State = iota
	StateNoMoreData
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateNoMoreData:
		return "NO_MORE_DATA"
	case StateClosed:
		return "CLOSED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Capacity bounds an exchange buffer. A zero field disables that bound.
type Capacity struct {
	MaxBytes  int64
	MaxBlocks int
}

// SinkHandle is the producer side of an exchange.
//
// Sends are tolerated in every state: once the sink has left OPEN they are
// silent no-ops and the block is released. Sends past capacity are accepted;
// producers are expected to wait on IsFull between sends.
type SinkHandle interface {
	// IsFull returns a signal that completes when the buffer has capacity.
	// The signal is one-shot and must be re-queried after it completes.
	IsFull() *Signal

	// Send enqueues b into the default partition, taking ownership of b.
	Send(b *block.Block)

	// SendPartition enqueues b into the given partition, taking ownership of b.
	SendPartition(partition int, b *block.Block) error

	// SetNoMoreBlocks marks the end of the producer's output. Buffered
	// blocks remain deliverable.
	SetNoMoreBlocks()

	// Close discards buffered blocks. Readers observe end of stream.
	Close()

	// Abort discards buffered blocks and holds readers blocked until the
	// query's failure cleanup releases them.
	Abort()

	State() State
}

// LocalSinkHandle is an in-process SinkHandle backed by one FIFO queue per
// partition. All state is guarded by a single mutex.
type LocalSinkHandle struct {
	id       string
	queryID  string
	capacity Capacity
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	queues  [][]*block.Block
	bytes   int64
	blocks  int
	notFull *Signal
	// changed is closed and replaced whenever readers may make progress.
	changed      chan struct{}
	released     bool
	releaseCause error
}

var _ SinkHandle = (*LocalSinkHandle)(nil)

// NewSinkHandle creates an unpartitioned sink handle.
func NewSinkHandle(capacity Capacity) *LocalSinkHandle {
	return newSinkHandle("", 1, capacity)
}

// NewPartitionedSinkHandle creates a sink handle with n partitions.
func NewPartitionedSinkHandle(n int, capacity Capacity) (*LocalSinkHandle, error) {
	if n < 1 {
		return nil, fmt.Errorf("partitioned sink needs at least one partition, got %d", n)
	}
	return newSinkHandle("", n, capacity), nil
}

func newSinkHandle(queryID string, partitions int, capacity Capacity) *LocalSinkHandle {
	id := uuid.NewString()
	logger := slog.Default().With("sink", id)
	if queryID != "" {
		logger = logger.With("query", queryID)
	}
	return &LocalSinkHandle{
		id:       id,
		queryID:  queryID,
		capacity: capacity,
		logger:   logger,
		queues:   make([][]*block.Block, partitions),
		changed:  make(chan struct{}),
	}
}

// ID returns the handle's unique id.
func (h *LocalSinkHandle) ID() string { return h.id }

// QueryID returns the id of the query that owns the handle, if any.
func (h *LocalSinkHandle) QueryID() string { return h.queryID }

// Partitions returns the number of lanes.
func (h *LocalSinkHandle) Partitions() int { return len(h.queues) }

func (h *LocalSinkHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// BufferedBytes returns the bytes currently held across all partitions.
func (h *LocalSinkHandle) BufferedBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytes
}

// BufferedBlocks returns the blocks currently held across all partitions.
func (h *LocalSinkHandle) BufferedBlocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blocks
}

func (h *LocalSinkHandle) IsFull() *Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.fullLocked() {
		return completedSignal
	}
	if h.notFull == nil {
		h.notFull = newSignal()
	}
	return h.notFull
}

func (h *LocalSinkHandle) Send(b *block.Block) {
	h.enqueue(DefaultPartition, b)
}

func (h *LocalSinkHandle) SendPartition(partition int, b *block.Block) error {
	if partition < 0 || partition >= len(h.queues) {
		b.Release()
		return fmt.Errorf("sink %s: partition %d of %d: %w", h.id, partition, len(h.queues), ErrInvalidPartition)
	}
	h.enqueue(partition, b)
	return nil
}

func (h *LocalSinkHandle) enqueue(partition int, b *block.Block) {
	size := b.SizeInBytes()

	h.mu.Lock()
	if h.state != StateOpen {
		state := h.state
		h.mu.Unlock()
		b.Release()
		metrics.ExchangeBlocksDropped.WithLabelValues(dropReason(state)).Inc()
		return
	}
	h.queues[partition] = append(h.queues[partition], b)
	h.bytes += size
	h.blocks++
	h.broadcastLocked()
	h.mu.Unlock()

	metrics.ExchangeBlocksSent.Inc()
	metrics.ExchangeBufferedBytes.Add(float64(size))
}

func (h *LocalSinkHandle) SetNoMoreBlocks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateOpen {
		return
	}
	h.state = StateNoMoreData
	h.broadcastLocked()
	h.logger.Debug("sink has no more blocks", "buffered_blocks", h.blocks)
}

func (h *LocalSinkHandle) Close() {
	h.terminate(StateClosed)
}

func (h *LocalSinkHandle) Abort() {
	h.terminate(StateAborted)
}

func (h *LocalSinkHandle) terminate(to State) {
	h.mu.Lock()
	if h.state == StateClosed || h.state == StateAborted {
		h.mu.Unlock()
		return
	}
	from := h.state
	h.state = to
	discarded, bytes := h.drainLocked()
	h.completeNotFullLocked()
	h.broadcastLocked()
	h.mu.Unlock()

	for _, b := range discarded {
		b.Release()
	}
	if len(discarded) > 0 {
		metrics.ExchangeBlocksDropped.WithLabelValues(metrics.DropDiscarded).Add(float64(len(discarded)))
		metrics.ExchangeBufferedBytes.Sub(float64(bytes))
	}
	h.logger.Debug("sink terminated", "from", from, "to", to, "discarded", len(discarded))
}

// ReleaseReaders is the query-failure cleanup hook. Readers held by an
// abort, now or later, return an error wrapping ErrAborted and cause.
func (h *LocalSinkHandle) ReleaseReaders(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.releaseCause = cause
	h.broadcastLocked()
}

// Source returns the pull endpoint for one partition.
func (h *LocalSinkHandle) Source(partition int) (*LocalSourceHandle, error) {
	if partition < 0 || partition >= len(h.queues) {
		return nil, fmt.Errorf("sink %s: partition %d of %d: %w", h.id, partition, len(h.queues), ErrInvalidPartition)
	}
	return &LocalSourceHandle{sink: h, partition: partition}, nil
}

func (h *LocalSinkHandle) fullLocked() bool {
	if h.capacity.MaxBytes > 0 && h.bytes >= h.capacity.MaxBytes {
		return true
	}
	return h.capacity.MaxBlocks > 0 && h.blocks >= h.capacity.MaxBlocks
}

func (h *LocalSinkHandle) completeNotFullLocked() {
	if h.notFull != nil && !h.fullLocked() {
		close(h.notFull.done)
		h.notFull = nil
	}
}

func (h *LocalSinkHandle) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

func (h *LocalSinkHandle) drainLocked() ([]*block.Block, int64) {
	var out []*block.Block
	for i, q := range h.queues {
		out = append(out, q...)
		h.queues[i] = nil
	}
	bytes := h.bytes
	h.bytes = 0
	h.blocks = 0
	return out, bytes
}

// dequeueLocked pops the head of a partition and completes the capacity
// signal if this brought the buffer below its bounds.
func (h *LocalSinkHandle) dequeueLocked(partition int) (*block.Block, int64) {
	q := h.queues[partition]
	b := q[0]
	q[0] = nil
	h.queues[partition] = q[1:]

	size := b.SizeInBytes()
	h.bytes -= size
	h.blocks--
	h.completeNotFullLocked()
	return b, size
}

func (h *LocalSinkHandle) abortedErrLocked() error {
	if h.releaseCause != nil {
		return fmt.Errorf("sink %s: %w: %w", h.id, ErrAborted, h.releaseCause)
	}
	return fmt.Errorf("sink %s: %w", h.id, ErrAborted)
}

func dropReason(s State) string {
	switch s {
	case StateNoMoreData:
		return metrics.DropNoMoreData
	case StateClosed:
		return metrics.DropClosed
	default:
		return metrics.DropAborted
	}
}
