package scl

import (
	"io"
	"sync"
)

// pipeChannel is an in-memory IOChannel used to drive two Connections
// against each other in-process, without a real socket — the SCL
// equivalent of the teacher's pkg/can/virtual bus standing in for real
// CAN hardware in protocol tests.
type pipeChannel struct {
	mu       sync.Mutex
	buf      []byte
	readable chan struct{}
	closed   bool // set by the writer's Close; Read then reports io.EOF once buf drains
}

// NewPipe returns a pair of connected IOChannels: bytes written to a are
// readable from b and vice versa.
func NewPipe() (IOChannel, IOChannel) {
	ab := &pipeChannel{readable: make(chan struct{}, 1)}
	ba := &pipeChannel{readable: make(chan struct{}, 1)}
	return &pipeEnd{write: ab, read: ba}, &pipeEnd{write: ba, read: ab}
}

// pipeEnd is one directional view of a pipeChannel pair: it writes into
// one buffer and reads from the other.
type pipeEnd struct {
	write *pipeChannel
	read  *pipeChannel
}

func (e *pipeEnd) Read(p []byte) (int, error) {
	e.read.mu.Lock()
	defer e.read.mu.Unlock()
	if len(e.read.buf) == 0 {
		if e.read.closed {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, e.read.buf)
	e.read.buf = e.read.buf[n:]
	return n, nil
}

func (e *pipeEnd) Write(p []byte) (int, error) {
	e.write.mu.Lock()
	if e.write.closed {
		e.write.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	e.write.buf = append(e.write.buf, p...)
	e.write.mu.Unlock()
	e.write.signal()
	return len(p), nil
}

func (e *pipeEnd) Readable() <-chan struct{} { return e.read.readable }

func (e *pipeEnd) Close() error {
	e.write.mu.Lock()
	e.write.closed = true
	e.write.mu.Unlock()
	e.write.signal()
	return nil
}

func (c *pipeChannel) signal() {
	select {
	case c.readable <- struct{}{}:
	default:
	}
}
