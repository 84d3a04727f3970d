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

// Package udp implements the direct datagram packet channel: one datagram
// is one packet, sent and received on a bound local UDP endpoint.
package udp

import (
	"net"
	"sync"
	"time"

	liberr "github.com/nabbar/golib/errors"

	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
)

const maxDatagram = 65536

// New returns a direct datagram channel for the given config. The
// substrate socket is acquired on Open, not here.
func New(cfg Config) (libchn.Channel, liberr.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &chn{
		cfg: cfg,
		snd: cfg.SndBufSize,
		rcv: cfg.RcvBufSize,
	}

	if c.snd <= 0 {
		c.snd = 65536
	}
	if c.rcv <= 0 {
		c.rcv = 65536
	}

	return c, nil
}

type chn struct {
	m   sync.Mutex
	cfg Config
	con *net.UDPConn
	snd int
	rcv int
}

func (c *chn) Open() liberr.Error {
	c.m.Lock()
	defer c.m.Unlock()

	if c.con != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", c.cfg.LocalAddr)
	if err != nil {
		return ErrorResolveAddr.Error(err)
	}

	con, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return ErrorBind.Error(err)
	}

	// advisory; the kernel may clamp
	_ = con.SetReadBuffer(c.rcv)
	_ = con.SetWriteBuffer(c.snd)

	c.con = con
	return nil
}

func (c *chn) Close() liberr.Error {
	c.m.Lock()
	defer c.m.Unlock()

	if c.con == nil {
		return nil
	}

	err := c.con.Close()
	c.con = nil

	if err != nil {
		return libchn.ErrorClosed.Error(err)
	}

	return nil
}

func (c *chn) conn() *net.UDPConn {
	c.m.Lock()
	defer c.m.Unlock()
	return c.con
}

func (c *chn) SendTo(addr *net.UDPAddr, p *packet.Packet) (int, liberr.Error) {
	con := c.conn()
	if con == nil {
		return -1, libchn.ErrorClosed.Error(nil)
	}

	buf := make([]byte, packet.HeaderSize+len(p.Data))
	n, e := packet.Marshal(p, buf)
	if e != nil {
		return -1, e
	}

	w, err := con.WriteToUDP(buf[:n], addr)
	if err != nil {
		if c.conn() == nil {
			return -1, libchn.ErrorClosed.Error(err)
		}
		return -1, libchn.ErrorSend.Error(err)
	}

	return w, nil
}

func (c *chn) RecvFrom(p *packet.Packet) (*net.UDPAddr, int, liberr.Error) {
	con := c.conn()
	if con == nil {
		return nil, -1, libchn.ErrorClosed.Error(nil)
	}

	buf := make([]byte, maxDatagram)
	_ = con.SetReadDeadline(time.Now().Add(libchn.RecvTimeout))

	n, addr, err := con.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, -1, libchn.ErrorAgain.Error(nil)
		}
		if c.conn() == nil {
			return nil, -1, libchn.ErrorClosed.Error(err)
		}
		return nil, -1, libchn.ErrorRecv.Error(err)
	}

	if e := packet.Unmarshal(buf[:n], p); e != nil {
		return nil, -1, e
	}

	return addr, p.Length(), nil
}

func (c *chn) LocalAddr() *net.UDPAddr {
	if con := c.conn(); con != nil {
		if a, ok := con.LocalAddr().(*net.UDPAddr); ok {
			return a
		}
	}
	return nil
}

func (c *chn) PeerAddr() *net.UDPAddr {
	// unconnected substrate; the peer is named per SendTo
	return nil
}

func (c *chn) SendBufSize() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.snd
}

func (c *chn) SetSendBufSize(size int) {
	c.m.Lock()
	defer c.m.Unlock()

	if size <= 0 {
		return
	}

	c.snd = size
	if c.con != nil {
		_ = c.con.SetWriteBuffer(size)
	}
}

func (c *chn) RecvBufSize() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.rcv
}

func (c *chn) SetRecvBufSize(size int) {
	c.m.Lock()
	defer c.m.Unlock()

	if size <= 0 {
		return
	}

	c.rcv = size
	if c.con != nil {
		_ = c.con.SetReadBuffer(size)
	}
}
