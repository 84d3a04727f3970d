/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package socket

import (
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"

	"github.com/seesky/poleis/transport"
)

const epollPollStep = 5 * time.Millisecond

// Event flags for the multiplexer.
type Event int

const (
	EventRead Event = 1 << iota
	EventWrite
	EventError
)

// Ready is the outcome of one Wait: the handles readable, writable and
// failed among the registered set.
type Ready struct {
	Read  []*Socket
	Write []*Socket
	Err   []*Socket
}

// Epoll is the event multiplexer over a registered set of sockets.
type Epoll struct {
	mu    sync.Mutex
	socks map[uint32]epollReg
}

type epollReg struct {
	s      *Socket
	events Event
}

// NewEpoll returns an empty multiplexer.
func NewEpoll() (*Epoll, liberr.Error) {
	if !started() {
		return nil, ErrorNotStarted.Error(nil)
	}
	return &Epoll{socks: make(map[uint32]epollReg)}, nil
}

// Add registers a socket for the given events.
func (e *Epoll) Add(s *Socket, events Event) liberr.Error {
	if s == nil {
		return ErrorInvalidSocket.Error(nil)
	}
	if events == 0 {
		events = EventRead | EventWrite | EventError
	}

	e.mu.Lock()
	e.socks[s.ID()] = epollReg{s: s, events: events}
	e.mu.Unlock()
	return nil
}

// Remove drops a socket from the registered set.
func (e *Epoll) Remove(s *Socket) {
	if s == nil {
		return
	}

	e.mu.Lock()
	delete(e.socks, s.ID())
	e.mu.Unlock()
}

// Wait blocks until at least one registered socket is ready or the
// timeout elapses (a zero timeout polls once, a negative one waits
// without bound).
func (e *Epoll) Wait(timeout time.Duration) (Ready, liberr.Error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		r := e.poll()
		if len(r.Read) > 0 || len(r.Write) > 0 || len(r.Err) > 0 {
			return r, nil
		}

		if timeout == 0 {
			return r, nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return r, transport.ErrorTimeout.Error(nil)
		}

		time.Sleep(epollPollStep)
	}
}

func (e *Epoll) poll() Ready {
	e.mu.Lock()
	regs := make([]epollReg, 0, len(e.socks))
	for _, r := range e.socks {
		regs = append(regs, r)
	}
	e.mu.Unlock()

	var out Ready
	for _, r := range regs {
		if r.events&EventRead != 0 && r.s.readable() {
			out.Read = append(out.Read, r.s)
		}
		if r.events&EventWrite != 0 && r.s.writable() {
			out.Write = append(out.Write, r.s)
		}
		if r.events&EventError != 0 && r.s.failed() {
			out.Err = append(out.Err, r.s)
		}
	}

	return out
}

func (s *Socket) readable() bool {
	s.mu.Lock()
	lst := s.lst
	conn := s.conn
	s.mu.Unlock()

	if lst != nil {
		return len(lst.accept) > 0
	}
	if conn != nil {
		return conn.Readable()
	}
	return false
}

func (s *Socket) writable() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	return conn != nil && conn.Writable()
}

func (s *Socket) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	if s.conn != nil {
		return s.conn.State() == transport.StateBroken
	}
	return false
}
