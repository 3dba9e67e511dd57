package stage

import (
	"errors"
	"time"
)

var (
	// ErrTimeout means nothing could be exchanged within the wait window.
	// It is an expected, non-error condition inside stage loops.
	ErrTimeout = errors.New("timed out waiting on queue")

	// ErrClosed means the producer closed the channel and it is drained.
	ErrClosed = errors.New("queue closed")
)

// Pop waits up to timeout for the next item on in.
func Pop[T any](in <-chan T, timeout time.Duration) (T, error) {
	var zero T
	select {
	case v, ok := <-in:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-in:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	}
}

// Push waits up to timeout for room on out. Items are never dropped: on
// ErrTimeout the caller still owns v and decides whether to retry.
func Push[T any](out chan<- T, v T, timeout time.Duration) error {
	select {
	case out <- v:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out <- v:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// PushUntilStopped retries Push until it succeeds or stop is set. onTimeout
// is called with the number of consecutive timeouts so far, which lets the
// caller report a stalled consumer.
func PushUntilStopped[T any](out chan<- T, v T, timeout time.Duration, stop *StopSignal, onTimeout func(attempt int)) error {
	for attempt := 1; ; attempt++ {
		err := Push(out, v, timeout)
		if err == nil {
			return nil
		}
		if stop.IsSet() {
			return err
		}
		if onTimeout != nil {
			onTimeout(attempt)
		}
	}
}
