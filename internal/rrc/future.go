package rrc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Feedback is the controller's answer to a command.
type Feedback struct {
	Seq          int       `json:"seq"`
	StringValues []string  `json:"string_values,omitempty"`
	FloatValues  []float64 `json:"float_values,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Float returns float value i.
func (f Feedback) Float(i int) (float64, error) {
	if i < 0 || i >= len(f.FloatValues) {
		return 0, fmt.Errorf("feedback %d has no float value %d", f.Seq, i)
	}
	return f.FloatValues[i], nil
}

// Future is the pending result of a sent command.
type Future struct {
	seq  int
	done chan struct{}
	once sync.Once
	fb   Feedback
	err  error
}

func newFuture(seq int) *Future {
	return &Future{seq: seq, done: make(chan struct{})}
}

func resolvedFuture(seq int) *Future {
	f := newFuture(seq)
	f.resolve(Feedback{Seq: seq}, nil)
	return f
}

// Seq is the sequence number of the command the future belongs to.
func (f *Future) Seq() int { return f.seq }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) resolve(fb Feedback, err error) {
	f.once.Do(func() {
		f.fb, f.err = fb, err
		close(f.done)
	})
}

// Wait blocks until the result arrives, the timeout passes (zero waits
// forever), or ctx ends.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (Feedback, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-f.done:
		return f.fb, f.err
	case <-expired:
		return Feedback{}, fmt.Errorf("command %d: %w after %v", f.seq, ErrTimeout, timeout)
	case <-ctx.Done():
		return Feedback{}, ctx.Err()
	}
}

// Seconds waits for a ReadWatch answer and returns the elapsed time.
func (f *Future) Seconds(ctx context.Context, timeout time.Duration) (float64, error) {
	fb, err := f.Wait(ctx, timeout)
	if err != nil {
		return 0, err
	}
	return fb.Float(0)
}
