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

// Package channel defines the packet-channel abstraction the connection
// engine performs all I/O through: send and receive one MTU-sized packet
// as one datagram over an underlying substrate.
//
// Two implementations live in the sub-packages: channel/udp binds a local
// UDP endpoint and maps one datagram to one packet; channel/ice tunnels
// packets through a connectivity-established ICE component.
package channel

import (
	"net"
	"time"

	liberr "github.com/nabbar/golib/errors"

	"github.com/seesky/poleis/packet"
)

// RecvTimeout is the bounded interval a RecvFrom call may block before
// returning ErrorAgain, so the engine's timers stay responsive.
const RecvTimeout = 10 * time.Millisecond

// Channel sends and receives single packets over a datagram substrate.
//
// RecvFrom blocks for at most a short bounded interval (order 10ms); when
// no packet arrived it returns an error carrying ErrorAgain. A closed or
// torn-down channel yields ErrorClosed from both SendTo and RecvFrom,
// distinct from the retry case.
type Channel interface {
	// Open acquires the substrate resource. Idempotent from the caller's
	// point of view: opening an already open channel is a no-op.
	Open() liberr.Error

	// Close releases the substrate resource and unblocks any in-progress
	// RecvFrom.
	Close() liberr.Error

	// SendTo attempts to send one packet as one datagram. The address
	// names the destination for direct channels and is ignored by
	// connectivity-established ones. Returns the datagram size sent.
	SendTo(addr *net.UDPAddr, p *packet.Packet) (int, liberr.Error)

	// RecvFrom blocks up to the bounded interval for one packet, filling
	// p and returning the sender address and payload length.
	RecvFrom(p *packet.Packet) (*net.UDPAddr, int, liberr.Error)

	// LocalAddr returns the best known local address, which may be nil
	// before the substrate is established.
	LocalAddr() *net.UDPAddr

	// PeerAddr returns the best known peer address, which may be nil
	// before the substrate is established.
	PeerAddr() *net.UDPAddr

	// SendBufSize / RecvBufSize report the advisory substrate buffer
	// sizes; the setters may clamp.
	SendBufSize() int
	SetSendBufSize(size int)
	RecvBufSize() int
	SetRecvBufSize(size int)
}

// IsAgain reports whether err is the bounded-timeout "no packet, retry"
// condition.
func IsAgain(err liberr.Error) bool {
	return err != nil && err.HasCode(ErrorAgain)
}

// IsClosed reports whether err marks the channel as closed or torn down.
func IsClosed(err liberr.Error) bool {
	return err != nil && err.HasCode(ErrorClosed)
}
