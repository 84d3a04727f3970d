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
	"io"
	"net"
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"

	libchn "github.com/seesky/poleis/channel"
	chnice "github.com/seesky/poleis/channel/ice"
	chnudp "github.com/seesky/poleis/channel/udp"
	"github.com/seesky/poleis/transport"
)

// Socket is one user-facing transport handle.
type Socket struct {
	id uint32

	mu       sync.Mutex
	opt      transport.Options
	useICE   bool
	iceCfg   chnice.Config
	udpSnd   int
	udpRcv   int
	reuse    bool
	ch       libchn.Channel
	iceCh    chnice.Channel
	conn     *transport.Conn
	lst      *listener
	closed   bool
	closedAt time.Time
}

// New allocates a socket handle over the direct datagram channel.
func New() (*Socket, liberr.Error) {
	if !started() {
		return nil, ErrorNotStarted.Error(nil)
	}

	s := &Socket{
		id:  newID(),
		opt: transport.DefaultOptions(),
	}
	register(s)
	return s, nil
}

// NewICE allocates a socket handle whose substrate is an ICE component
// configured by cfg.
func NewICE(cfg chnice.Config) (*Socket, liberr.Error) {
	if !started() {
		return nil, ErrorNotStarted.Error(nil)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Socket{
		id:     newID(),
		opt:    transport.DefaultOptions(),
		useICE: true,
		iceCfg: cfg,
	}
	register(s)
	return s, nil
}

// wrapAccepted builds the handle of a connection established by a
// listener.
func wrapAccepted(conn *transport.Conn, id uint32) *Socket {
	return &Socket{
		id:   id,
		opt:  conn.Options(),
		conn: conn,
	}
}

// ID returns the socket identifier.
func (s *Socket) ID() uint32 {
	return s.id
}

// SetHandshakeTimeout bounds a later Connect.
func (s *Socket) SetHandshakeTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.opt.HandshakeTimeout = d
	}
}

func (s *Socket) options() transport.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opt
}

// reapable reports whether the reaper may reclaim this handle.
func (s *Socket) reapable(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && now.Sub(s.closedAt) > s.opt.Linger
}

// Bind acquires the local substrate endpoint. For the direct channel
// addr is the local host:port (empty picks an ephemeral port on all
// interfaces); for an ICE socket addr is ignored and candidate gathering
// starts.
func (s *Socket) Bind(addr string) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrorWrongState.Error(nil)
	}
	if s.ch != nil {
		return ErrorWrongState.Error(nil)
	}

	if s.useICE {
		c, err := chnice.New(s.iceCfg)
		if err != nil {
			return err
		}
		if err = c.Open(); err != nil {
			return err
		}
		s.iceCh = c
		s.ch = c
		return nil
	}

	if addr == "" {
		addr = ":0"
	}

	c, err := chnudp.New(chnudp.Config{
		LocalAddr:  addr,
		SndBufSize: s.udpSnd,
		RcvBufSize: s.udpRcv,
	})
	if err != nil {
		return err
	}
	if err = c.Open(); err != nil {
		return transport.ErrorBindRefused.Error(err)
	}

	s.ch = c
	return nil
}

// Listen turns the bound socket into a listener with the given accept
// backlog.
func (s *Socket) Listen(backlog int) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.conn != nil {
		return ErrorWrongState.Error(nil)
	}
	if s.ch == nil {
		return ErrorNotBound.Error(nil)
	}
	if s.lst != nil {
		return nil
	}

	s.lst = newListener(s, backlog)
	return nil
}

// Accept blocks for the next established connection and returns its
// handle together with the peer address when known.
func (s *Socket) Accept() (*Socket, *net.UDPAddr, liberr.Error) {
	s.mu.Lock()
	l := s.lst
	s.mu.Unlock()

	if l == nil {
		return nil, nil, ErrorNotListening.Error(nil)
	}

	select {
	case <-l.stop:
		return nil, nil, ErrorWrongState.Error(nil)
	case a := <-l.accept:
		return a, a.conn.Channel().PeerAddr(), nil
	}
}

// Connect establishes the connection toward addr (host:port for the
// direct channel; ignored for ICE, where the out-of-band credential
// exchange names the peer). Blocking, bounded by the handshake timeout.
func (s *Socket) Connect(addr string) liberr.Error {
	s.mu.Lock()

	if s.closed || s.lst != nil || s.conn != nil {
		s.mu.Unlock()
		return ErrorWrongState.Error(nil)
	}

	if s.ch == nil {
		// an unbound connect binds an ephemeral endpoint first
		s.mu.Unlock()
		if err := s.Bind(""); err != nil {
			return err
		}
		s.mu.Lock()
	}

	var peer *net.UDPAddr
	if !s.useICE {
		a, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			s.mu.Unlock()
			return transport.ErrorSetup.Error(err)
		}
		peer = a
	}

	opt := s.opt
	ice := s.iceCh
	ch := s.ch

	conn := transport.New(ch, s.id, randISN(), opt)
	s.conn = conn
	s.mu.Unlock()

	if ice != nil {
		if err := ice.WaitUntilConnected(opt.HandshakeTimeout); err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return err
		}
	}

	if err := conn.Connect(peer); err != nil {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		return err
	}

	return nil
}

func (s *Socket) connected() (*transport.Conn, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, transport.ErrorConnClosed.Error(nil)
	}
	if s.conn == nil {
		return nil, ErrorWrongState.Error(nil)
	}
	return s.conn, nil
}

// Send submits bytes to the ordered stream.
func (s *Socket) Send(b []byte) (int, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return 0, err
	}
	return c.Send(b)
}

// Recv drains in-order bytes; (0, nil) marks a clean end-of-stream.
func (s *Socket) Recv(b []byte) (int, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return 0, err
	}
	return c.Recv(b)
}

// SendMsg submits one message with in-order delivery selection and an
// optional time-to-live in milliseconds (zero keeps the message until
// acknowledged).
func (s *Socket) SendMsg(b []byte, inOrder bool, ttlMs int) (int, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return 0, err
	}
	return c.SendMsg(b, inOrder, time.Duration(ttlMs)*time.Millisecond)
}

// RecvMsg extracts one complete message; acceptOutOfOrder lets a
// completed unordered message bypass earlier gaps.
func (s *Socket) RecvMsg(acceptOutOfOrder bool) ([]byte, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return nil, err
	}
	return c.RecvMsg(acceptOutOfOrder)
}

// SendFile streams size bytes from r over the connection.
func (s *Socket) SendFile(r io.Reader, size int64) (int64, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return 0, err
	}
	return c.SendFile(r, size)
}

// RecvFile streams size bytes from the connection into w.
func (s *Socket) RecvFile(w io.Writer, size int64) (int64, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return 0, err
	}
	return c.RecvFile(w, size)
}

// Perfmon returns the connection performance snapshot.
func (s *Socket) Perfmon() (transport.Stats, liberr.Error) {
	c, err := s.connected()
	if err != nil {
		return transport.Stats{}, err
	}
	return c.Perfmon(), nil
}

// State returns the connection state; an unconnected handle is CLOSED.
func (s *Socket) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return transport.StateClosed
	}
	return s.conn.State()
}

// LocalAddr returns the substrate's local address when bound.
func (s *Socket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		return nil
	}
	return s.ch.LocalAddr()
}

// Close tears the socket down: listener first, then the connection, then
// the substrate. The handle is reclaimed after the linger grace period.
func (s *Socket) Close() liberr.Error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closedAt = time.Now()

	lst := s.lst
	conn := s.conn
	ch := s.ch
	s.lst = nil
	s.mu.Unlock()

	if lst != nil {
		lst.close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if ch != nil && conn == nil {
		// the connection closes its own channel; a bare bound handle
		// releases it here
		_ = ch.Close()
	}

	return nil
}
