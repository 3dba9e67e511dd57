package stage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StopSignal is a process-wide flag that is set exactly once and observed by
// every stage loop.
type StopSignal struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewStopSignal creates an unset stop signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Set raises the flag. Calls after the first are no-ops.
func (s *StopSignal) Set() {
	s.once.Do(func() {
		s.set.Store(true)
		close(s.done)
	})
}

// IsSet reports whether the flag has been raised.
func (s *StopSignal) IsSet() bool {
	return s.set.Load()
}

// Done returns a channel closed when the flag is raised. Stage loops poll
// IsSet; Done is for supervisors that wait on several events at once.
func (s *StopSignal) Done() <-chan struct{} {
	return s.done
}

// Context returns a child of parent that is cancelled once the flag is
// raised. Callers must call the returned cancel function.
func (s *StopSignal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Notifier is an advisory wake-up signal between one signaler and one waiter.
// Each Notify deposits one token, up to the notifier's capacity; further
// notifications are coalesced. The waiter must treat a wake as a hint and
// re-read its input channel, since the channel and not the token carries the
// work.
type Notifier struct {
	tokens chan struct{}
}

// NewNotifier creates a notifier holding at most capacity pending tokens.
// Sizing it to the capacity of the channel it guards means no wake is lost
// while the waiter is busy.
func NewNotifier(capacity int) *Notifier {
	if capacity < 1 {
		capacity = 1
	}
	return &Notifier{tokens: make(chan struct{}, capacity)}
}

// Notify wakes the waiter. It never blocks.
func (n *Notifier) Notify() {
	select {
	case n.tokens <- struct{}{}:
	default:
	}
}

// Wait blocks until a token is available or timeout elapses. It returns
// false on timeout.
func (n *Notifier) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-n.tokens:
		return true
	case <-timer.C:
		return false
	}
}

// Pending returns the number of undelivered tokens.
func (n *Notifier) Pending() int {
	return len(n.tokens)
}
