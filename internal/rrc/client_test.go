package rrc

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startClient wires a client to a mock controller and runs the monitor and
// dispatch loops until the test ends.
func startClient(t *testing.T) (*Client, *MockController) {
	t.Helper()
	ctrl := NewMockController()
	link := NewLink(ctrl)
	client := NewClient(link)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); link.Monitor(ctx) }()
	go func() { defer wg.Done(); client.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		link.Close()
		wg.Wait()
	})
	return client, ctrl
}

func TestClient_SendWithoutFeedbackResolvesImmediately(t *testing.T) {
	client, ctrl := startClient(t)

	f, err := client.Send(SetTool("t_pick"))
	require.NoError(t, err)

	select {
	case <-f.Done():
	default:
		t.Fatal("future for a fire and forget command should already be resolved")
	}

	reqs := ctrl.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, Request{
		Seq:          1,
		Instruction:  InstructionSetTool,
		Feedback:     FeedbackNone,
		StringValues: []string{"t_pick"},
		FloatValues:  []float64{},
	}, reqs[0])
}

func TestClient_SendAndWait(t *testing.T) {
	client, ctrl := startClient(t)

	fb, err := client.SendAndWait(context.Background(), Noop(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.Seq)

	reqs := ctrl.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, FeedbackDone, reqs[0].Feedback)
}

func TestClient_ReadWatchSeconds(t *testing.T) {
	client, ctrl := startClient(t)
	ctrl.SetWatchSeconds(12.5)

	_, err := client.Send(StartWatch())
	require.NoError(t, err)
	f, err := client.Send(ReadWatch())
	require.NoError(t, err)

	secs, err := f.Seconds(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 12.5, secs)
	assert.Equal(t, 2, f.Seq())
}

func TestClient_Timeout(t *testing.T) {
	client, ctrl := startClient(t)
	ctrl.SetSilent(true)

	_, err := client.SendAndWait(context.Background(), Noop(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_ControllerError(t *testing.T) {
	client, ctrl := startClient(t)
	ctrl.FailInstruction(InstructionSetTool, "unknown tool")

	_, err := client.SendAndWait(context.Background(), SetTool("nope"), time.Second)
	assert.ErrorIs(t, err, ErrController)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestClient_RefusesUnknownInstruction(t *testing.T) {
	client, ctrl := startClient(t)

	_, err := client.Send(Command{Instruction: "r_RRC_Explode"})
	assert.ErrorIs(t, err, ErrUnknownInstruction)
	assert.Empty(t, ctrl.Requests())
}

func TestClient_RunStopFailsPending(t *testing.T) {
	ctrl := NewMockController()
	ctrl.SetSilent(true)
	link := NewLink(ctrl)
	client := NewClient(link)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	f, err := client.Send(Noop().WithFeedback(FeedbackDone))
	require.NoError(t, err)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	_, err = f.Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = client.Send(Noop())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, link.Close())
}

func TestLink_FanOutAndClose(t *testing.T) {
	ctrl := NewMockController()
	link := NewLink(ctrl)
	_, a := link.Subscribe()
	idB, b := link.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- link.Monitor(ctx) }()

	require.NoError(t, link.WriteLine(`{"seq":1,"instruction":"r_RRC_Noop","feedback":"done"}`))
	assert.Equal(t, `{"seq":1}`, <-a)
	assert.Equal(t, `{"seq":1}`, <-b)

	link.Unsubscribe(idB)
	_, open := <-b
	assert.False(t, open)

	require.NoError(t, link.Close())
	_, open = <-a
	assert.False(t, open)
	assert.NoError(t, <-done)
}

// hangupConn accepts writes and blocks reads until the peer hangs up.
type hangupConn struct {
	once   sync.Once
	hangup chan struct{}
}

func newHangupConn() *hangupConn { return &hangupConn{hangup: make(chan struct{})} }

func (c *hangupConn) Read(p []byte) (int, error) {
	<-c.hangup
	return 0, io.EOF
}

func (c *hangupConn) Write(p []byte) (int, error) { return len(p), nil }

func (c *hangupConn) hangUp() { c.once.Do(func() { close(c.hangup) }) }

func (c *hangupConn) Close() error {
	c.hangUp()
	return nil
}

func TestClient_PeerDisconnectFailsPending(t *testing.T) {
	conn := newHangupConn()
	link := NewLink(conn)
	client := NewClient(link)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitorDone := make(chan error, 1)
	runDone := make(chan error, 1)
	go func() { monitorDone <- link.Monitor(ctx) }()
	go func() { runDone <- client.Run(ctx) }()

	f, err := client.Send(ReadWatch())
	require.NoError(t, err)

	conn.hangUp()
	assert.ErrorIs(t, <-monitorDone, ErrDisconnected)
	assert.NoError(t, <-runDone)

	_, err = f.Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = client.Send(Noop())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, link.Close())
}
