package helpers

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// NewTestAllocator creates a CheckedAllocator whose remaining allocations
// are asserted to be zero when the test finishes.
func NewTestAllocator(t testing.TB) *memory.CheckedAllocator {
	t.Helper()
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	t.Cleanup(func() { AssertNoLeaks(t, alloc) })
	return alloc
}

// AssertNoLeaks verifies that all Arrow memory has been properly released.
func AssertNoLeaks(t testing.TB, alloc *memory.CheckedAllocator) {
	t.Helper()
	if alloc.CurrentAlloc() > 0 {
		t.Fatalf("Arrow memory leak detected: %d bytes still allocated", alloc.CurrentAlloc())
	}
}

// TrackingAllocator wraps an allocator and counts net allocations and frees.
// It is safe for concurrent use by producer and consumer drivers.
type TrackingAllocator struct {
	inner       memory.Allocator
	allocated   atomic.Int64
	freed       atomic.Int64
	currentUsed atomic.Int64
}

// NewTrackingAllocator creates a tracking allocator wrapping inner.
func NewTrackingAllocator(inner memory.Allocator) *TrackingAllocator {
	return &TrackingAllocator{inner: inner}
}

func (ta *TrackingAllocator) Allocate(size int) []byte {
	ta.allocated.Add(int64(size))
	ta.currentUsed.Add(int64(size))
	return ta.inner.Allocate(size)
}

func (ta *TrackingAllocator) Reallocate(size int, b []byte) []byte {
	delta := int64(size) - int64(len(b))
	if delta > 0 {
		ta.allocated.Add(delta)
	} else {
		ta.freed.Add(-delta)
	}
	ta.currentUsed.Add(delta)
	return ta.inner.Reallocate(size, b)
}

func (ta *TrackingAllocator) Free(b []byte) {
	ta.freed.Add(int64(len(b)))
	ta.currentUsed.Add(-int64(len(b)))
	ta.inner.Free(b)
}

// CurrentUsed returns the number of bytes currently allocated and not freed.
func (ta *TrackingAllocator) CurrentUsed() int64 { return ta.currentUsed.Load() }

// CheckReleased returns an error if any allocation is still outstanding.
func (ta *TrackingAllocator) CheckReleased() error {
	if used := ta.currentUsed.Load(); used != 0 {
		return fmt.Errorf("memory leak: %d bytes allocated, %d bytes freed, %d bytes still in use",
			ta.allocated.Load(), ta.freed.Load(), used)
	}
	return nil
}
