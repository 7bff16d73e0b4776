package exchange

import "context"

// Signal is a one-shot completion notification. It is returned by
// SinkHandle.IsFull and completes once the buffer can accept more data.
type Signal struct {
	done chan struct{}
}

var completedSignal = func() *Signal {
	s := newSignal()
	close(s.done)
	return s
}()

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Done returns a channel that is closed when the signal completes.
func (s *Signal) Done() <-chan struct{} { return s.done }

// IsDone reports whether the signal has completed.
func (s *Signal) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal completes or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
