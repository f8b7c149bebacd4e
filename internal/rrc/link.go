package rrc

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/banshee-data/clayfab/internal/monitoring"
)

var (
	ErrWriteFailed  = errors.New("short write to controller link")
	ErrDisconnected = errors.New("controller closed the connection")
)

// subscriberBuffer is the number of lines a subscriber may fall behind
// before lines are dropped for it.
const subscriberBuffer = 256

// Linker is the line oriented connection the client talks through.
type Linker interface {
	// Subscribe returns a channel receiving every line read from the link.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// WriteLine writes line followed by a newline.
	WriteLine(string) error
}

// Link fans lines read from a controller connection out to subscribers and
// serialises writes to it.
type Link[T io.ReadWriteCloser] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// NewLink wraps an open connection.
func NewLink[T io.ReadWriteCloser](port T) *Link[T] {
	return &Link[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (l *Link[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

func (l *Link[T]) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

func (l *Link[T]) WriteLine(line string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n, err := l.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines until ctx ends or the connection is closed. The
// blocking read runs in its own goroutine and exits once Close is called.
// When the peer ends the connection, subscribers are closed and
// ErrDisconnected (or the read error) is returned.
func (l *Link[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if l.isClosing() {
				return nil
			}
			l.closeSubscribers()
			return fmt.Errorf("read controller link: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				if l.isClosing() {
					return nil
				}
				select {
				case err := <-scanErrChan:
					l.closeSubscribers()
					return fmt.Errorf("read controller link: %w", err)
				default:
				}
				l.closeSubscribers()
				return ErrDisconnected
			}
			if l.isClosing() {
				return nil
			}
			l.subscriberMu.Lock()
			for id, ch := range l.subscribers {
				select {
				case ch <- line:
				default:
					monitoring.Logf("rrc: subscriber %s is full, dropping line", id)
				}
			}
			l.subscriberMu.Unlock()
		}
	}
}

func (l *Link[T]) isClosing() bool {
	l.closingMu.Lock()
	defer l.closingMu.Unlock()
	return l.closing
}

// Close closes every subscriber channel and the connection.
func (l *Link[T]) Close() error {
	l.closingMu.Lock()
	if l.closing {
		l.closingMu.Unlock()
		return nil
	}
	l.closing = true
	l.closingMu.Unlock()

	l.closeSubscribers()
	return l.port.Close()
}

func (l *Link[T]) closeSubscribers() {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
}
