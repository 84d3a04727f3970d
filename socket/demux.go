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
	"net"
	"time"

	liberr "github.com/nabbar/golib/errors"

	libchn "github.com/seesky/poleis/channel"
	"github.com/seesky/poleis/packet"
)

const demuxQueueDepth = 1024

type routed struct {
	pkt  packet.Packet
	addr *net.UDPAddr
}

// demuxChannel is the per-accepted-connection view of a listener's
// shared channel: sends pass through to the substrate toward the stored
// peer, receives pop the packets the listener routed here by destination
// socket identifier.
type demuxChannel struct {
	under  libchn.Channel
	peer   *net.UDPAddr
	queue  chan routed
	stop   chan struct{}
	orphan func()
}

func newDemuxChannel(under libchn.Channel, peer *net.UDPAddr, orphan func()) *demuxChannel {
	return &demuxChannel{
		under:  under,
		peer:   peer,
		queue:  make(chan routed, demuxQueueDepth),
		stop:   make(chan struct{}),
		orphan: orphan,
	}
}

// route hands one arrival to this connection, dropping the oldest entry
// when saturated so the listener loop never blocks.
func (d *demuxChannel) route(p packet.Packet, addr *net.UDPAddr) {
	select {
	case <-d.stop:
		return
	default:
	}

	for {
		select {
		case d.queue <- routed{pkt: p, addr: addr}:
			return
		default:
			select {
			case <-d.queue:
			default:
			}
		}
	}
}

func (d *demuxChannel) Open() liberr.Error { return nil }

func (d *demuxChannel) Close() liberr.Error {
	select {
	case <-d.stop:
		return nil
	default:
		close(d.stop)
	}

	if d.orphan != nil {
		d.orphan()
	}
	return nil
}

func (d *demuxChannel) SendTo(addr *net.UDPAddr, p *packet.Packet) (int, liberr.Error) {
	select {
	case <-d.stop:
		return -1, libchn.ErrorClosed.Error(nil)
	default:
	}

	if addr == nil {
		addr = d.peer
	}
	return d.under.SendTo(addr, p)
}

func (d *demuxChannel) RecvFrom(p *packet.Packet) (*net.UDPAddr, int, liberr.Error) {
	t := time.NewTimer(libchn.RecvTimeout)
	defer t.Stop()

	select {
	case <-d.stop:
		return nil, -1, libchn.ErrorClosed.Error(nil)
	case r := <-d.queue:
		*p = r.pkt
		return r.addr, p.Length(), nil
	case <-t.C:
		return nil, -1, libchn.ErrorAgain.Error(nil)
	}
}

func (d *demuxChannel) LocalAddr() *net.UDPAddr { return d.under.LocalAddr() }

func (d *demuxChannel) PeerAddr() *net.UDPAddr { return d.peer }

func (d *demuxChannel) SendBufSize() int { return d.under.SendBufSize() }

func (d *demuxChannel) SetSendBufSize(size int) { d.under.SetSendBufSize(size) }

func (d *demuxChannel) RecvBufSize() int { return d.under.RecvBufSize() }

func (d *demuxChannel) SetRecvBufSize(size int) { d.under.SetRecvBufSize(size) }
