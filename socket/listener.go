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
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"

	liblog "github.com/nabbar/golib/logger"

	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/transport"
)

// pendingHS remembers a handshake response already issued, so duplicate
// requests are answered idempotently and the final cookie echo can be
// validated.
type pendingHS struct {
	localID  uint32
	isn      int32
	cookie   int32
	issued   time.Time
	response packet.Handshake
}

// listener owns the bound channel of a listening socket: it answers
// handshakes and routes established traffic to the accepted connections
// sharing the channel, keyed by destination socket identifier.
type listener struct {
	sck    *Socket
	ch     libchn.Channel
	accept chan *Socket

	mu      sync.Mutex
	conns   map[uint32]*demuxChannel
	pending map[uint32]pendingHS // keyed by the requester's socket id
	secret  uint32

	stop chan struct{}
	wg   sync.WaitGroup
}

func newListener(sck *Socket, backlog int) *listener {
	if backlog <= 0 {
		backlog = 16
	}

	l := &listener{
		sck:     sck,
		ch:      sck.ch,
		accept:  make(chan *Socket, backlog),
		conns:   make(map[uint32]*demuxChannel),
		pending: make(map[uint32]pendingHS),
		secret:  newID(),
		stop:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.loop()
	return l
}

func (l *listener) close() {
	select {
	case <-l.stop:
		return
	default:
		close(l.stop)
	}
	l.wg.Wait()
}

func (l *listener) loop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		var p packet.Packet
		addr, _, err := l.ch.RecvFrom(&p)

		switch {
		case err == nil:
			l.dispatch(&p, addr)
		case libchn.IsClosed(err):
			return
		case libchn.IsAgain(err):
			l.expirePending()
		}
	}
}

func (l *listener) dispatch(p *packet.Packet, addr *net.UDPAddr) {
	if p.IsControl() && p.ControlType() == packet.TypeHandshake && p.DstID() == 0 {
		l.onHandshake(p, addr)
		return
	}

	l.mu.Lock()
	d := l.conns[p.DstID()]
	l.mu.Unlock()

	if d != nil {
		d.route(*p, addr)
	}
}

// cookie derives the reflection guard for a peer address from the
// listener secret and a coarse time bucket.
func (l *listener) cookie(addr *net.UDPAddr) int32 {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d|%s|%d", l.secret, addr.String(), time.Now().Unix()/60)
	return int32(h.Sum32() & 0x7FFFFFFF)
}

func (l *listener) onHandshake(p *packet.Packet, addr *net.UDPAddr) {
	hs, err := p.HandshakeBody()
	if err != nil || hs.Version != packet.HandshakeVersion {
		return
	}

	switch hs.ReqType {
	case packet.ReqRegular:
		l.onRequest(hs, addr)
	case packet.ReqFinal:
		l.onFinal(hs, addr)
	}
}

// onRequest answers a connection request with this side's chosen
// identifiers and a syn cookie. Duplicate requests get the same answer.
func (l *listener) onRequest(hs packet.Handshake, addr *net.UDPAddr) {
	if addr == nil {
		addr = l.ch.PeerAddr()
	}
	if addr == nil {
		addr = &net.UDPAddr{}
	}

	l.mu.Lock()
	pend, known := l.pending[hs.SockID]
	if !known {
		o := l.sck.options()
		pend = pendingHS{
			localID: newID(),
			isn:     randISN(),
			cookie:  l.cookie(addr),
			issued:  time.Now(),
		}

		mtu := o.MTU
		if int(hs.MTU) > packet.HeaderSize && int(hs.MTU) < mtu {
			mtu = int(hs.MTU)
		}

		pend.response = packet.Handshake{
			Version:    packet.HandshakeVersion,
			SockType:   hs.SockType,
			ISN:        pend.isn,
			MTU:        int32(mtu),
			FlowWindow: int32(o.RcvBufSize),
			ReqType:    packet.ReqResponse,
			SockID:     pend.localID,
			Cookie:     pend.cookie,
			PeerIP:     hs.PeerIP,
		}

		l.pending[hs.SockID] = pend
	}
	l.mu.Unlock()

	out := packet.NewHandshake(pend.response)
	out.SetDstID(hs.SockID)
	_, _ = l.ch.SendTo(addr, &out)
}

// onFinal validates the cookie echo and creates the accepted connection.
func (l *listener) onFinal(hs packet.Handshake, addr *net.UDPAddr) {
	l.mu.Lock()
	pend, known := l.pending[hs.SockID]
	if !known || pend.cookie != hs.Cookie {
		l.mu.Unlock()
		if known {
			liblog.InfoLevel.Logf("socket: handshake final with a stale cookie from %v", addr)
		}
		return
	}

	if _, dup := l.conns[pend.localID]; dup {
		// the final was retransmitted; the connection already runs
		l.mu.Unlock()
		return
	}

	o := l.sck.options()
	if int(hs.MTU) > packet.HeaderSize && int(hs.MTU) < o.MTU {
		o.MTU = int(hs.MTU)
	}

	localID := pend.localID
	d := newDemuxChannel(l.ch, addr, func() { l.forget(localID) })
	l.conns[localID] = d
	delete(l.pending, hs.SockID)
	l.mu.Unlock()

	conn := transport.NewAccepted(d, localID, hs.SockID, addr, pend.isn, hs.ISN, o)
	conn.Start()

	s := wrapAccepted(conn, localID)
	register(s)

	select {
	case l.accept <- s:
	default:
		// backlog full: refuse by tearing the young connection down
		liblog.InfoLevel.Logf("socket: accept backlog full, refusing connection from %v", addr)
		_ = s.Close()
	}
}

func (l *listener) forget(id uint32) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

// expirePending drops handshake offers that were never completed.
func (l *listener) expirePending() {
	const pendingTTL = 30 * time.Second

	l.mu.Lock()
	for k, p := range l.pending {
		if time.Since(p.issued) > pendingTTL {
			delete(l.pending, k)
		}
	}
	l.mu.Unlock()
}
