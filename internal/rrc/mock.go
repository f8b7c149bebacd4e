package rrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// MockController stands in for the controller end of a link. Every request
// line written to it is recorded and, unless silenced, answered the way the
// controller would answer it.
type MockController struct {
	mu   sync.Mutex
	cond *sync.Cond

	in       bytes.Buffer
	out      bytes.Buffer
	requests []Request
	closed   bool

	silent       bool
	watchSeconds float64
	// errorFor makes the controller report an error for an instruction.
	errorFor map[string]string
}

// NewMockController returns a controller that answers every request.
func NewMockController() *MockController {
	m := &MockController{errorFor: make(map[string]string)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetSilent stops (or resumes) answering requests.
func (m *MockController) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// SetWatchSeconds sets the value ReadWatch is answered with.
func (m *MockController) SetWatchSeconds(s float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchSeconds = s
}

// FailInstruction answers instruction with a controller error.
func (m *MockController) FailInstruction(instruction, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorFor[instruction] = msg
}

// Requests returns the requests received so far.
func (m *MockController) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Write accepts request lines.
func (m *MockController) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.in.Write(p)
	for {
		line, err := m.in.ReadBytes('\n')
		if err != nil {
			// keep the partial line for the next write
			m.in.Write(line)
			break
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return 0, fmt.Errorf("mock controller: bad request %q: %w", line, err)
		}
		m.requests = append(m.requests, req)
		m.answer(req)
	}
	return len(p), nil
}

func (m *MockController) answer(req Request) {
	if m.silent || req.Feedback == FeedbackNone {
		return
	}
	fb := Feedback{Seq: req.Seq, Error: m.errorFor[req.Instruction]}
	if req.Instruction == InstructionReadWatch {
		fb.FloatValues = []float64{m.watchSeconds}
	}
	b, _ := json.Marshal(fb)
	m.out.Write(append(b, '\n'))
	m.cond.Broadcast()
}

// Read returns feedback lines, blocking until one is available.
func (m *MockController) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.closed && m.out.Len() == 0 {
		m.cond.Wait()
	}
	if m.out.Len() > 0 {
		return m.out.Read(p)
	}
	return 0, io.EOF
}

func (m *MockController) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

// MockClient is a Sender that records commands without a controller.
// SendAndWait fails with ErrTimeout while TimeoutsRemaining is positive.
type MockClient struct {
	mu sync.Mutex

	// Sent holds every command in send order.
	Sent []Command
	// Waited records whether the command at the same index was blocking.
	Waited []bool

	TimeoutsRemaining int
	Err               error
	WatchSeconds      float64
}

func (m *MockClient) record(cmd Command, waited bool) int {
	m.Sent = append(m.Sent, cmd)
	m.Waited = append(m.Waited, waited)
	return len(m.Sent)
}

func (m *MockClient) Send(cmd Command) (*Future, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !IsAllowed(cmd.Instruction) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstruction, cmd.Instruction)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	seq := m.record(cmd, false)
	f := newFuture(seq)
	fb := Feedback{Seq: seq}
	if cmd.Instruction == InstructionReadWatch {
		fb.FloatValues = []float64{m.WatchSeconds}
	}
	f.resolve(fb, nil)
	return f, nil
}

func (m *MockClient) SendAndWait(ctx context.Context, cmd Command, timeout time.Duration) (Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !IsAllowed(cmd.Instruction) {
		return Feedback{}, fmt.Errorf("%w: %q", ErrUnknownInstruction, cmd.Instruction)
	}
	if m.Err != nil {
		return Feedback{}, m.Err
	}
	seq := m.record(cmd, true)
	if m.TimeoutsRemaining > 0 {
		m.TimeoutsRemaining--
		return Feedback{}, fmt.Errorf("command %d: %w after %v", seq, ErrTimeout, timeout)
	}
	return Feedback{Seq: seq}, nil
}

// Instructions returns the instruction names sent so far.
func (m *MockClient) Instructions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, c := range m.Sent {
		out[i] = c.Instruction
	}
	return out
}

// Reset forgets recorded commands.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = nil
	m.Waited = nil
}
