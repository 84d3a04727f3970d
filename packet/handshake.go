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

package packet

// Socket types negotiated in the handshake.
const (
	SockStream int32 = 1
	SockDgram  int32 = 2
)

// Connection request kinds carried in the handshake ReqType field.
const (
	ReqRegular    int32 = 1  // caller-initiated request
	ReqRendezvous int32 = 0  // rendezvous request
	ReqResponse   int32 = -1 // responder's reply
	ReqFinal      int32 = -2 // requester's cookie echo
)

// HandshakeVersion is the protocol version exchanged in handshakes.
const HandshakeVersion int32 = 4

const handshakeWords = 12

// Handshake is the body of a HANDSHAKE control packet.
type Handshake struct {
	Version    int32
	SockType   int32
	ISN        int32 // initial sequence number
	MTU        int32
	FlowWindow int32
	ReqType    int32
	SockID     uint32
	Cookie     int32
	PeerIP     [4]uint32 // IPv4-mapped peer address
}

// NewHandshake builds a HANDSHAKE control packet from h.
func NewHandshake(h Handshake) Packet {
	body := []uint32{
		uint32(h.Version), uint32(h.SockType), uint32(h.ISN), uint32(h.MTU),
		uint32(h.FlowWindow), uint32(h.ReqType), h.SockID, uint32(h.Cookie),
		h.PeerIP[0], h.PeerIP[1], h.PeerIP[2], h.PeerIP[3],
	}
	return newControl(TypeHandshake, 0, 0, body)
}

// HandshakeBody decodes the handshake body of p.
func (p *Packet) HandshakeBody() (Handshake, error) {
	var h Handshake
	if p.ControlType() != TypeHandshake || len(p.Data) < handshakeWords*4 {
		return h, ErrorHandshakeShort.Error(nil)
	}
	w := func(i int) uint32 { return hostOrder.Uint32(p.Data[i*4:]) }
	h.Version = int32(w(0))
	h.SockType = int32(w(1))
	h.ISN = int32(w(2))
	h.MTU = int32(w(3))
	h.FlowWindow = int32(w(4))
	h.ReqType = int32(w(5))
	h.SockID = w(6)
	h.Cookie = int32(w(7))
	h.PeerIP[0] = w(8)
	h.PeerIP[1] = w(9)
	h.PeerIP[2] = w(10)
	h.PeerIP[3] = w(11)
	return h, nil
}
