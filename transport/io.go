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

package transport

import (
	"io"
	"time"

	liberr "github.com/nabbar/golib/errors"
)

const fileChunk = 65536

func (c *Conn) checkOpen() liberr.Error {
	switch c.State() {
	case StateConnected:
		return nil
	case StateBroken:
		return ErrorConnBroken.Error(nil)
	default:
		return ErrorConnClosed.Error(nil)
	}
}

// Send submits application bytes to the ordered stream. In blocking mode
// the call waits for send-buffer room; otherwise it admits what fits and
// fails with a would-block code when nothing does.
func (c *Conn) Send(b []byte) (int, liberr.Error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	var (
		o        = c.Options()
		mss      = c.payloadSize()
		sent     = 0
		deadline time.Time
	)

	if o.SndTimeout > 0 {
		deadline = time.Now().Add(o.SndTimeout)
	}

	for sent < len(b) {
		if err := c.checkOpen(); err != nil {
			if sent > 0 {
				return sent, nil
			}
			return 0, err
		}

		free := c.snd.Free()
		if free > 0 {
			admit := len(b) - sent
			if admit > free*mss {
				admit = free * mss
			}

			if c.snd.AddMessage(b[sent:sent+admit], mss, true, 0, time.Now()) > 0 {
				sent += admit
				c.mu.Lock()
				c.sndCond.Broadcast()
				c.mu.Unlock()
				continue
			}
		}

		if !o.SyncSend {
			if sent > 0 {
				return sent, nil
			}
			return 0, ErrorWouldBlock.Error(nil)
		}

		c.mu.Lock()
		ok := true
		for c.snd.Free() == 0 && c.State() == StateConnected && ok {
			ok = c.condWait(c.sndCond, deadline)
		}
		c.mu.Unlock()

		if !ok {
			if sent > 0 {
				return sent, nil
			}
			return 0, ErrorTimeout.Error(nil)
		}
	}

	return sent, nil
}

// SendMsg submits one message with its delivery constraints: in-order
// delivery and an optional time-to-live after which unacknowledged
// packets of the message are dropped on both sides.
func (c *Conn) SendMsg(b []byte, inOrder bool, ttl time.Duration) (int, liberr.Error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	var (
		o        = c.Options()
		mss      = c.payloadSize()
		blocks   = (len(b) + mss - 1) / mss
		deadline time.Time
	)

	if o.MaxMsg > 0 && len(b) > o.MaxMsg {
		return 0, ErrorMsgTooLarge.Error(nil)
	}
	if blocks > o.SndBufSize {
		return 0, ErrorMsgTooLarge.Error(nil)
	}

	if o.SndTimeout > 0 {
		deadline = time.Now().Add(o.SndTimeout)
	}

	for {
		if err := c.checkOpen(); err != nil {
			return 0, err
		}

		if c.snd.AddMessage(b, mss, inOrder, ttl, time.Now()) > 0 {
			c.mu.Lock()
			c.sndCond.Broadcast()
			c.mu.Unlock()
			return len(b), nil
		}

		if !o.SyncSend {
			return 0, ErrorWouldBlock.Error(nil)
		}

		c.mu.Lock()
		ok := c.condWait(c.sndCond, deadline)
		c.mu.Unlock()

		if !ok {
			return 0, ErrorTimeout.Error(nil)
		}
	}
}

// Recv drains in-order bytes from the stream. A connection ended by a
// validated peer SHUTDOWN drains to (0, nil), the end-of-stream marker.
func (c *Conn) Recv(b []byte) (int, liberr.Error) {
	if len(b) == 0 {
		return 0, ErrorInvalidBuffer.Error(nil)
	}

	var (
		o        = c.Options()
		deadline time.Time
	)

	if o.RcvTimeout > 0 {
		deadline = time.Now().Add(o.RcvTimeout)
	}

	for {
		if c.rcv != nil {
			if n := c.rcv.ReadStream(b); n > 0 {
				return n, nil
			}
		}

		if c.shutdown.Load() {
			return 0, nil
		}

		switch c.State() {
		case StateBroken:
			return 0, ErrorConnBroken.Error(nil)
		case StateClosed, StateOpening:
			return 0, ErrorConnClosed.Error(nil)
		}

		if !o.SyncRecv {
			return 0, ErrorWouldBlock.Error(nil)
		}

		c.mu.Lock()
		ok := true
		if c.rcv == nil || !c.rcv.HasData() {
			ok = c.condWait(c.rcvCond, deadline)
		}
		c.mu.Unlock()

		if !ok {
			return 0, ErrorTimeout.Error(nil)
		}
	}
}

// RecvMsg extracts one complete message. With acceptOutOfOrder a message
// whose bounds are filled is handed out even when earlier sequences are
// still missing.
func (c *Conn) RecvMsg(acceptOutOfOrder bool) ([]byte, liberr.Error) {
	var (
		o        = c.Options()
		deadline time.Time
	)

	if o.RcvTimeout > 0 {
		deadline = time.Now().Add(o.RcvTimeout)
	}

	for {
		if c.rcv != nil {
			if msg, ok := c.rcv.NextMsg(acceptOutOfOrder); ok {
				return msg, nil
			}
		}

		if c.shutdown.Load() {
			return nil, ErrorConnClosed.Error(nil)
		}

		switch c.State() {
		case StateBroken:
			return nil, ErrorConnBroken.Error(nil)
		case StateClosed, StateOpening:
			return nil, ErrorConnClosed.Error(nil)
		}

		if !o.SyncRecv {
			return nil, ErrorWouldBlock.Error(nil)
		}

		c.mu.Lock()
		ok := c.condWait(c.rcvCond, deadline)
		c.mu.Unlock()

		if !ok {
			return nil, ErrorTimeout.Error(nil)
		}
	}
}

// Readable reports whether a Recv would make progress without blocking:
// deliverable data, a pending end-of-stream, or a failure to surface.
func (c *Conn) Readable() bool {
	if c.rcv != nil && c.rcv.HasData() {
		return true
	}
	if c.shutdown.Load() {
		return true
	}
	return c.State() == StateBroken
}

// Writable reports whether a Send would admit data without blocking.
func (c *Conn) Writable() bool {
	return c.State() == StateConnected && c.snd != nil && c.snd.Free() > 0
}

// SendFile streams size bytes from r over the ordered stream, blocking
// until done or the connection fails.
func (c *Conn) SendFile(r io.Reader, size int64) (int64, liberr.Error) {
	var (
		buf  = make([]byte, fileChunk)
		done int64
	)

	for done < size {
		want := int64(len(buf))
		if size-done < want {
			want = size - done
		}

		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			w, e := c.sendAll(buf[:n])
			done += int64(w)
			if e != nil {
				return done, e
			}
		}

		if err != nil {
			return done, ErrorFileIO.Error(err)
		}
	}

	return done, nil
}

// sendAll pushes the whole slice through Send regardless of the
// configured blocking mode.
func (c *Conn) sendAll(b []byte) (int, liberr.Error) {
	sent := 0
	for sent < len(b) {
		n, err := c.Send(b[sent:])
		sent += n
		if err != nil {
			if err.HasCode(ErrorWouldBlock) {
				time.Sleep(SynInterval)
				continue
			}
			return sent, err
		}
	}
	return sent, nil
}

// RecvFile streams size bytes from the connection into w, blocking until
// done, end-of-stream, or failure.
func (c *Conn) RecvFile(w io.Writer, size int64) (int64, liberr.Error) {
	var (
		buf  = make([]byte, fileChunk)
		done int64
	)

	for done < size {
		want := int64(len(buf))
		if size-done < want {
			want = size - done
		}

		n, err := c.Recv(buf[:want])
		if n > 0 {
			if _, e := w.Write(buf[:n]); e != nil {
				return done, ErrorFileIO.Error(e)
			}
			done += int64(n)
		}

		if err != nil {
			if err.HasCode(ErrorWouldBlock) || err.HasCode(ErrorTimeout) {
				continue
			}
			return done, err
		}

		if n == 0 && err == nil {
			// clean end-of-stream before the full size arrived
			return done, ErrorConnClosed.Error(nil)
		}
	}

	return done, nil
}
