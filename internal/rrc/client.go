// Package rrc is a small robot communication client. Commands are written
// to the controller as JSON lines and answered, when asked for, with JSON
// feedback lines carrying the same sequence number.
package rrc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/clayfab/internal/monitoring"
)

var (
	ErrTimeout            = errors.New("timed out waiting for controller feedback")
	ErrClosed             = errors.New("controller link closed")
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrController         = errors.New("controller reported an error")
)

// DefaultTimeout is used by SendAndWait when no timeout is given.
const DefaultTimeout = 10 * time.Second

// Request is the wire form of a command.
type Request struct {
	Seq          int           `json:"seq"`
	Instruction  string        `json:"instruction"`
	Feedback     FeedbackLevel `json:"feedback"`
	StringValues []string      `json:"string_values"`
	FloatValues  []float64     `json:"float_values"`
}

// Sender sends commands to a controller.
type Sender interface {
	// Send queues cmd and returns a future for its feedback. Commands sent
	// without feedback return an already resolved future.
	Send(cmd Command) (*Future, error)
	// SendAndWait sends cmd asking for feedback and blocks until it
	// arrives or the timeout passes.
	SendAndWait(ctx context.Context, cmd Command, timeout time.Duration) (Feedback, error)
}

// Client matches controller feedback to the commands that asked for it.
type Client struct {
	link  Linker
	subID string
	lines chan string

	mu      sync.Mutex
	seq     int
	pending map[int]*Future
	closed  bool
}

// NewClient subscribes to link straight away so no feedback is missed
// between sending and Run starting.
func NewClient(link Linker) *Client {
	id, lines := link.Subscribe()
	return &Client{
		link:    link,
		subID:   id,
		lines:   lines,
		pending: make(map[int]*Future),
	}
}

// Run dispatches feedback lines until ctx ends or the link closes. Pending
// futures fail with ErrClosed when it returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.link.Unsubscribe(c.subID)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case line, ok := <-c.lines:
			if !ok {
				c.shutdown()
				return nil
			}
			c.dispatch(line)
		}
	}
}

func (c *Client) dispatch(line string) {
	var fb Feedback
	if err := json.Unmarshal([]byte(line), &fb); err != nil {
		monitoring.Logf("rrc: ignoring malformed feedback %q: %v", line, err)
		return
	}

	c.mu.Lock()
	f, ok := c.pending[fb.Seq]
	delete(c.pending, fb.Seq)
	c.mu.Unlock()

	if !ok {
		monitoring.Debugf("rrc: feedback for unknown command %d", fb.Seq)
		return
	}
	if fb.Error != "" {
		f.resolve(fb, fmt.Errorf("command %d: %w: %s", fb.Seq, ErrController, fb.Error))
		return
	}
	f.resolve(fb, nil)
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for seq, f := range c.pending {
		f.resolve(Feedback{Seq: seq}, ErrClosed)
		delete(c.pending, seq)
	}
}

func (c *Client) forget(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) Send(cmd Command) (*Future, error) {
	if !IsAllowed(cmd.Instruction) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstruction, cmd.Instruction)
	}
	if cmd.Feedback == "" {
		cmd.Feedback = FeedbackNone
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.seq++
	seq := c.seq
	var f *Future
	if cmd.Feedback != FeedbackNone {
		f = newFuture(seq)
		c.pending[seq] = f
	}
	c.mu.Unlock()

	line, err := json.Marshal(Request{
		Seq:          seq,
		Instruction:  cmd.Instruction,
		Feedback:     cmd.Feedback,
		StringValues: orEmpty(cmd.StringValues),
		FloatValues:  orEmpty(cmd.FloatValues),
	})
	if err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("encode %s: %w", cmd.Instruction, err)
	}
	monitoring.Debugf("rrc: -> %s", line)
	if err := c.link.WriteLine(string(line)); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send %s: %w", cmd.Instruction, err)
	}

	if f == nil {
		return resolvedFuture(seq), nil
	}
	return f, nil
}

func (c *Client) SendAndWait(ctx context.Context, cmd Command, timeout time.Duration) (Feedback, error) {
	if cmd.Feedback == "" || cmd.Feedback == FeedbackNone {
		cmd = cmd.WithFeedback(FeedbackDone)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f, err := c.Send(cmd)
	if err != nil {
		return Feedback{}, err
	}
	fb, err := f.Wait(ctx, timeout)
	if err != nil {
		c.forget(f.Seq())
		return Feedback{}, err
	}
	return fb, nil
}

func orEmpty[E any](s []E) []E {
	if s == nil {
		return []E{}
	}
	return s
}
