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
	"encoding/binary"
	"net"
	"time"

	liberr "github.com/nabbar/golib/errors"

	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
)

// handshakeLocal builds this side's handshake body for the given request
// kind.
func (c *Conn) handshakeLocal(reqType int32) packet.Handshake {
	o := c.Options()

	var peerIP [4]uint32
	if a := c.peerAddr.Load(); a != nil {
		if v4 := a.IP.To4(); v4 != nil {
			peerIP[0] = binary.BigEndian.Uint32(v4)
		}
	}

	return packet.Handshake{
		Version:    packet.HandshakeVersion,
		SockType:   packet.SockStream,
		ISN:        c.isn,
		MTU:        int32(o.MTU),
		FlowWindow: int32(o.RcvBufSize),
		ReqType:    reqType,
		SockID:     c.id,
		PeerIP:     peerIP,
	}
}

// Connect performs the caller-initiated handshake toward peer: request,
// response with the responder's cookie and chosen identifiers, and the
// final cookie echo. In rendezvous mode both sides emit requests and the
// first matching one is accepted. On success the engine tasks start.
func (c *Conn) Connect(peer *net.UDPAddr) liberr.Error {
	switch c.State() {
	case StateConnected:
		return nil
	case StateBroken:
		return ErrorConnBroken.Error(nil)
	}

	if err := c.ch.Open(); err != nil {
		return ErrorSetup.Error(err)
	}

	if peer != nil {
		c.peerAddr.Store(peer)
	}

	c.state.Store(int32(StateOpening))

	var (
		o           = c.Options()
		deadline    = time.Now().Add(o.HandshakeTimeout)
		reqType     = packet.ReqRegular
		lastSend    time.Time
		established bool
		peerHS      packet.Handshake
	)

	if o.Rendezvous {
		reqType = packet.ReqRendezvous
	}

	for time.Now().Before(deadline) && !established {
		if time.Since(lastSend) >= handshakeResend {
			hs := c.handshakeLocal(reqType)
			p := packet.NewHandshake(hs)
			p.SetTimestamp(c.tsNow())

			if _, err := c.ch.SendTo(peer, &p); err != nil && libchn.IsClosed(err) {
				c.state.Store(int32(StateClosed))
				return ErrorConnClosed.Error(err)
			}
			lastSend = time.Now()
		}

		var in packet.Packet
		addr, _, err := c.ch.RecvFrom(&in)
		if err != nil {
			if libchn.IsClosed(err) {
				c.state.Store(int32(StateClosed))
				return ErrorConnClosed.Error(err)
			}
			continue
		}

		if !in.IsControl() || in.ControlType() != packet.TypeHandshake {
			continue
		}

		hs, e := in.HandshakeBody()
		if e != nil || hs.Version != packet.HandshakeVersion {
			continue
		}

		switch {
		case hs.ReqType == packet.ReqResponse:
			peerHS = hs
			if addr != nil {
				c.peerAddr.Store(addr)
			}

			// the final travels with destination zero: the listener
			// routes handshakes before the connection exists
			final := c.handshakeLocal(packet.ReqFinal)
			final.Cookie = hs.Cookie
			fp := packet.NewHandshake(final)
			fp.SetTimestamp(c.tsNow())
			_, _ = c.ch.SendTo(c.peerAddr.Load(), &fp)

			established = true

		case o.Rendezvous && hs.ReqType == packet.ReqRendezvous:
			peerHS = hs
			if addr != nil {
				c.peerAddr.Store(addr)
			}

			resp := c.handshakeLocal(packet.ReqResponse)
			resp.Cookie = hs.Cookie
			rp := packet.NewHandshake(resp)
			rp.SetTimestamp(c.tsNow())
			_, _ = c.ch.SendTo(c.peerAddr.Load(), &rp)

			established = true
		}
	}

	if !established {
		c.state.Store(int32(StateClosed))
		return ErrorHandshakeTimeout.Error(nil)
	}

	c.peerID.Store(peerHS.SockID)
	c.peerISN = peerHS.ISN

	if peerHS.MTU > int32(packet.HeaderSize) && peerHS.MTU < int32(o.MTU) {
		c.SetOptions(func(opt *Options) { opt.MTU = int(peerHS.MTU) })
	}

	c.finalize()

	if peerHS.FlowWindow > 0 {
		c.flowWindow.Store(peerHS.FlowWindow)
	}

	c.Start()
	return nil
}
