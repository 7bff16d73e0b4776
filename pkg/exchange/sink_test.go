package exchange

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sandboxws/isotope/mpp/pkg/block"
)

// ── Test helpers ────────────────────────────────────────────────────

func valueBlock(t testing.TB, alloc memory.Allocator, vals ...int32) *block.Block {
	t.Helper()
	bb := block.NewBuilder(alloc, block.Field{Name: "v", Type: block.TypeInt32})
	defer bb.Release()
	for i, v := range vals {
		bb.WriteTime(int64(i))
		bb.Column(0).WriteInt32(v)
		if err := bb.DeclarePosition(); err != nil {
			t.Fatal(err)
		}
	}
	b, err := bb.Build()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func mustSource(t testing.TB, h *LocalSinkHandle, partition int) *LocalSourceHandle {
	t.Helper()
	src, err := h.Source(partition)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func pullValue(t testing.TB, src SourceHandle) int32 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := src.Pull(ctx)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer b.Release()
	return b.Int32(0, 0)
}

func expectEOF(t testing.TB, src SourceHandle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := src.Pull(ctx)
	if b != nil {
		b.Release()
		t.Fatal("expected end of stream, got a block")
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

type pullResult struct {
	b   *block.Block
	err error
}

func pullAsync(src SourceHandle) <-chan pullResult {
	ch := make(chan pullResult, 1)
	go func() {
		b, err := src.Pull(context.Background())
		ch <- pullResult{b, err}
	}()
	return ch
}

// ── Send / lifecycle tests ──────────────────────────────────────────

func TestSendPullFIFO(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	src := mustSource(t, h, DefaultPartition)

	for _, v := range []int32{1, 2, 3} {
		h.Send(valueBlock(t, alloc, v))
	}
	h.SetNoMoreBlocks()

	for _, want := range []int32{1, 2, 3} {
		if got := pullValue(t, src); got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	expectEOF(t, src)
}

func TestSendAfterNoMoreBlocksIsNoop(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	h.Send(valueBlock(t, alloc, 1))
	h.SetNoMoreBlocks()
	h.SetNoMoreBlocks()

	bytes, blocks := h.BufferedBytes(), h.BufferedBlocks()
	h.Send(valueBlock(t, alloc, 2))
	if err := h.SendPartition(DefaultPartition, valueBlock(t, alloc, 3)); err != nil {
		t.Fatal(err)
	}
	if h.BufferedBytes() != bytes || h.BufferedBlocks() != blocks {
		t.Fatalf("send after no-more-blocks changed the buffer: %d/%d bytes, %d/%d blocks",
			h.BufferedBytes(), bytes, h.BufferedBlocks(), blocks)
	}
	if h.State() != StateNoMoreData {
		t.Fatalf("expected NO_MORE_DATA, got %s", h.State())
	}

	src := mustSource(t, h, DefaultPartition)
	if got := pullValue(t, src); got != 1 {
		t.Errorf("expected buffered block 1, got %d", got)
	}
	expectEOF(t, src)
}

func TestCloseDiscardsBufferedBlocks(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	h.Send(valueBlock(t, alloc, 1))
	h.Send(valueBlock(t, alloc, 2))

	h.Close()
	h.Close()

	if h.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", h.State())
	}
	if h.BufferedBlocks() != 0 || h.BufferedBytes() != 0 {
		t.Fatalf("expected empty buffer after close, got %d blocks", h.BufferedBlocks())
	}

	h.Send(valueBlock(t, alloc, 3))
	if h.BufferedBlocks() != 0 {
		t.Fatal("send after close was queued")
	}
	expectEOF(t, mustSource(t, h, DefaultPartition))
}

func TestCloseWakesBlockedReader(t *testing.T) {
	h := NewSinkHandle(Capacity{})
	res := pullAsync(mustSource(t, h, DefaultPartition))

	select {
	case r := <-res:
		t.Fatalf("pull returned before close: %v", r.err)
	case <-time.After(20 * time.Millisecond):
	}

	h.Close()
	select {
	case r := <-res:
		if !errors.Is(r.err, io.EOF) {
			t.Fatalf("expected io.EOF after close, got %v", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by close")
	}
}

func TestNoMoreBlocksWakesBlockedReader(t *testing.T) {
	h := NewSinkHandle(Capacity{})
	res := pullAsync(mustSource(t, h, DefaultPartition))

	h.SetNoMoreBlocks()
	select {
	case r := <-res:
		if !errors.Is(r.err, io.EOF) {
			t.Fatalf("expected io.EOF, got %v", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by SetNoMoreBlocks")
	}
}

func TestSendWakesBlockedReader(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	res := pullAsync(mustSource(t, h, DefaultPartition))

	h.Send(valueBlock(t, alloc, 42))
	select {
	case r := <-res:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.b.Int32(0, 0) != 42 {
			t.Errorf("expected 42, got %d", r.b.Int32(0, 0))
		}
		r.b.Release()
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by send")
	}
}

// ── Abort tests ─────────────────────────────────────────────────────

func TestAbortHoldsReadersUntilReleased(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	h.Send(valueBlock(t, alloc, 1))
	h.Abort()

	if h.State() != StateAborted {
		t.Fatalf("expected ABORTED, got %s", h.State())
	}
	if h.BufferedBlocks() != 0 {
		t.Fatalf("expected buffered blocks discarded, got %d", h.BufferedBlocks())
	}

	res := pullAsync(mustSource(t, h, DefaultPartition))
	select {
	case r := <-res:
		if r.b != nil {
			r.b.Release()
		}
		t.Fatalf("reader of an aborted sink returned before cleanup: %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	cause := errors.New("shard 3 failed")
	h.ReleaseReaders(cause)

	select {
	case r := <-res:
		if r.b != nil {
			r.b.Release()
			t.Fatal("aborted sink delivered a discarded block")
		}
		if !errors.Is(r.err, ErrAborted) || !errors.Is(r.err, cause) {
			t.Fatalf("expected ErrAborted wrapping the cause, got %v", r.err)
		}
		if errors.Is(r.err, io.EOF) {
			t.Fatal("aborted sink reported end of stream")
		}
	case <-time.After(time.Second):
		t.Fatal("reader was not released")
	}

	// Later readers fail immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := mustSource(t, h, DefaultPartition).Pull(ctx); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted for a later reader, got %v", err)
	}
}

func TestAbortReaderHonorsContext(t *testing.T) {
	h := NewSinkHandle(Capacity{})
	h.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mustSource(t, h, DefaultPartition).Pull(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	tests := []struct {
		name  string
		first func(h *LocalSinkHandle)
		then  func(h *LocalSinkHandle)
		want  State
	}{
		{"close then abort", (*LocalSinkHandle).Close, (*LocalSinkHandle).Abort, StateClosed},
		{"abort then close", (*LocalSinkHandle).Abort, (*LocalSinkHandle).Close, StateAborted},
		{"close then no more", (*LocalSinkHandle).Close, (*LocalSinkHandle).SetNoMoreBlocks, StateClosed},
		{"abort then no more", (*LocalSinkHandle).Abort, (*LocalSinkHandle).SetNoMoreBlocks, StateAborted},
		{"no more then close", (*LocalSinkHandle).SetNoMoreBlocks, (*LocalSinkHandle).Close, StateClosed},
		{"no more then abort", (*LocalSinkHandle).SetNoMoreBlocks, (*LocalSinkHandle).Abort, StateAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSinkHandle(Capacity{})
			tt.first(h)
			tt.then(h)
			if h.State() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, h.State())
			}
		})
	}
}

func TestConcurrentSendAndAbort(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	src := mustSource(t, h, DefaultPartition)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Send(valueBlock(t, alloc, int32(i)))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	readerDone := make(chan error, 1)
	go func() {
		for {
			b, err := src.Pull(ctx)
			if err != nil {
				readerDone <- err
				return
			}
			b.Release()
		}
	}()

	time.Sleep(time.Millisecond)
	h.Abort()
	wg.Wait()

	if h.BufferedBlocks() != 0 {
		t.Fatalf("expected no buffered blocks after abort, got %d", h.BufferedBlocks())
	}

	h.ReleaseReaders(nil)
	select {
	case err := <-readerDone:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader not released")
	}
	cancel()
}

// ── Capacity signal tests ───────────────────────────────────────────

func TestIsFullSignal(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{MaxBlocks: 2})
	defer h.Close()
	src := mustSource(t, h, DefaultPartition)

	if !h.IsFull().IsDone() {
		t.Fatal("empty sink should not be full")
	}

	h.Send(valueBlock(t, alloc, 1))
	h.Send(valueBlock(t, alloc, 2))
	sig := h.IsFull()
	if sig.IsDone() {
		t.Fatal("signal completed while the buffer is full")
	}
	if h.IsFull() != sig {
		t.Fatal("expected the same pending signal during one full episode")
	}

	// Over-capacity send is tolerated.
	h.Send(valueBlock(t, alloc, 3))
	if h.BufferedBlocks() != 3 {
		t.Fatalf("expected over-capacity send to be queued, got %d blocks", h.BufferedBlocks())
	}

	pullValue(t, src)
	if sig.IsDone() {
		t.Fatal("signal completed while occupancy is still at capacity")
	}

	pullValue(t, src)
	select {
	case <-sig.Done():
	case <-time.After(time.Second):
		t.Fatal("signal did not complete after the buffer drained below capacity")
	}
	if !h.IsFull().IsDone() {
		t.Fatal("expected a completed signal once below capacity")
	}
}

func TestIsFullMaxBytes(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	b := valueBlock(t, alloc, 1)
	h := NewSinkHandle(Capacity{MaxBytes: b.SizeInBytes()})
	defer h.Close()

	h.Send(b)
	if h.IsFull().IsDone() {
		t.Fatal("expected sink to be full at the byte bound")
	}
	pullValue(t, mustSource(t, h, DefaultPartition))
	if !h.IsFull().IsDone() {
		t.Fatal("expected sink to have capacity after draining")
	}
}

func TestIsFullCompletesOnCloseAndAbort(t *testing.T) {
	for _, terminate := range []func(*LocalSinkHandle){(*LocalSinkHandle).Close, (*LocalSinkHandle).Abort} {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)

		h := NewSinkHandle(Capacity{MaxBlocks: 1})
		h.Send(valueBlock(t, alloc, 1))
		sig := h.IsFull()
		if sig.IsDone() {
			t.Fatal("expected a pending signal")
		}

		terminate(h)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := sig.Wait(ctx); err != nil {
			t.Fatalf("signal did not complete after discarding the buffer: %v", err)
		}
		cancel()
		alloc.AssertSize(t, 0)
	}
}

// ── Partition tests ─────────────────────────────────────────────────

func TestPartitionedSend(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h, err := NewPartitionedSinkHandle(3, Capacity{})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.SendPartition(2, valueBlock(t, alloc, 20)); err != nil {
		t.Fatal(err)
	}
	h.Send(valueBlock(t, alloc, 0))
	h.SetNoMoreBlocks()

	if got := pullValue(t, mustSource(t, h, 2)); got != 20 {
		t.Errorf("partition 2: expected 20, got %d", got)
	}
	if got := pullValue(t, mustSource(t, h, DefaultPartition)); got != 0 {
		t.Errorf("default partition: expected 0, got %d", got)
	}
	for _, p := range []int{0, 1, 2} {
		expectEOF(t, mustSource(t, h, p))
	}
}

func TestSendInvalidPartition(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	h := NewSinkHandle(Capacity{})
	if err := h.SendPartition(1, valueBlock(t, alloc, 1)); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition, got %v", err)
	}
	if _, err := h.Source(-1); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition for source, got %v", err)
	}
	if _, err := NewPartitionedSinkHandle(0, Capacity{}); err == nil {
		t.Fatal("expected error for zero partitions")
	}
}
