package exchange

import (
	"context"
	"io"

	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/metrics"
)

// SourceHandle is the consumer side of an exchange. Pull blocks until a
// block is available and returns io.EOF at the end of the stream.
type SourceHandle interface {
	Pull(ctx context.Context) (*block.Block, error)
}

// LocalSourceHandle pulls from one partition of a LocalSinkHandle.
type LocalSourceHandle struct {
	sink      *LocalSinkHandle
	partition int
}

var _ SourceHandle = (*LocalSourceHandle)(nil)

// Partition returns the lane this source reads.
func (s *LocalSourceHandle) Partition() int { return s.partition }

// Pull returns the next block of the partition, transferring ownership to
// the caller. It returns io.EOF once the sink was closed, or once it has no
// more blocks and the partition is drained. While the sink is aborted Pull
// keeps waiting until ReleaseReaders is called, then returns ErrAborted.
func (s *LocalSourceHandle) Pull(ctx context.Context) (*block.Block, error) {
	h := s.sink
	for {
		h.mu.Lock()
		switch h.state {
		case StateAborted:
			if h.released {
				err := h.abortedErrLocked()
				h.mu.Unlock()
				return nil, err
			}
		case StateClosed:
			h.mu.Unlock()
			return nil, io.EOF
		default:
			if len(h.queues[s.partition]) > 0 {
				b, size := h.dequeueLocked(s.partition)
				h.mu.Unlock()
				metrics.ExchangeBufferedBytes.Sub(float64(size))
				return b, nil
			}
			if h.state == StateNoMoreData {
				h.mu.Unlock()
				return nil, io.EOF
			}
		}
		changed := h.changed
		h.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
