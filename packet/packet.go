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

// Package packet lays out the transport's 16-byte packet header and the
// typed control-packet bodies, and converts both between host and network
// byte order. The codec is pure: it performs no I/O and operates on the
// Packet value and caller-provided buffers only.
//
// The header is four 32-bit words. The top bit of word 0 separates data
// packets (clear, the remaining 31 bits carry the sequence number) from
// control packets (set, bits 30..16 carry the type code and bits 15..0 a
// type-specific subfield). Word 1 holds either the message number with its
// boundary and ordering flags, or control additional info. Word 2 is the
// timestamp in microseconds since connection start, word 3 the destination
// socket identifier.
package packet

// HeaderSize is the fixed wire size of the packet header in bytes.
const HeaderSize = 16

// Type identifies a control packet.
type Type uint16

const (
	TypeHandshake  Type = 0
	TypeKeepAlive  Type = 1
	TypeAck        Type = 2
	TypeNak        Type = 3
	TypeCongestion Type = 4
	TypeShutdown   Type = 5
	TypeAck2       Type = 6
	TypeMsgDrop    Type = 7
	TypeError      Type = 8
)

// Boundary marks a data packet's position inside a message.
type Boundary uint8

const (
	BoundMiddle Boundary = 0 // neither first nor last
	BoundLast   Boundary = 1
	BoundFirst  Boundary = 2
	BoundSolo   Boundary = 3 // first and last in one packet
)

const (
	flagControl  = uint32(1) << 31
	maskSeqNo    = uint32(0x7FFFFFFF)
	maskMsgNo    = uint32(0x1FFFFFFF)
	maskType     = uint32(0x7FFF)
	flagInOrder  = uint32(1) << 29
	shiftType    = 16
	shiftBound   = 30
	maskSubField = uint32(0xFFFF)
)

// Packet is one transport packet: a four-word header and a payload of at
// most the channel MTU minus HeaderSize. For control packets the payload
// is an array of 32-bit words kept in host order between Marshal calls.
type Packet struct {
	Header [4]uint32
	Data   []byte
}

// IsControl reports whether the packet is a control packet.
func (p *Packet) IsControl() bool {
	return p.Header[0]&flagControl != 0
}

// SeqNo returns the data packet's 31-bit sequence number.
func (p *Packet) SeqNo() int32 {
	return int32(p.Header[0] & maskSeqNo)
}

// SetSeqNo stamps the data packet's sequence number.
func (p *Packet) SetSeqNo(s int32) {
	p.Header[0] = uint32(s) & maskSeqNo
}

// ControlType returns the control packet's type code.
func (p *Packet) ControlType() Type {
	return Type((p.Header[0] >> shiftType) & maskType)
}

// SubField returns the 16-bit type-specific subfield of a control packet.
func (p *Packet) SubField() uint16 {
	return uint16(p.Header[0] & maskSubField)
}

// MsgNo returns the data packet's 29-bit message number.
func (p *Packet) MsgNo() int32 {
	return int32(p.Header[1] & maskMsgNo)
}

// MsgBoundary returns the data packet's message-boundary flags.
func (p *Packet) MsgBoundary() Boundary {
	return Boundary(p.Header[1] >> shiftBound)
}

// InOrder reports whether the data packet requires in-order delivery.
func (p *Packet) InOrder() bool {
	return p.Header[1]&flagInOrder != 0
}

// SetMsg stamps the message number, boundary flags and ordering bit of a
// data packet.
func (p *Packet) SetMsg(msgno int32, bound Boundary, inOrder bool) {
	w := uint32(msgno)&maskMsgNo | uint32(bound)<<shiftBound
	if inOrder {
		w |= flagInOrder
	}
	p.Header[1] = w
}

// AddInfo returns the control packet's additional-info word.
func (p *Packet) AddInfo() int32 {
	return int32(p.Header[1])
}

// SetAddInfo sets the control packet's additional-info word.
func (p *Packet) SetAddInfo(v int32) {
	p.Header[1] = uint32(v)
}

// Timestamp returns the packet timestamp in microseconds since connection
// start.
func (p *Packet) Timestamp() uint32 {
	return p.Header[2]
}

// SetTimestamp stamps the packet timestamp.
func (p *Packet) SetTimestamp(ts uint32) {
	p.Header[2] = ts
}

// DstID returns the destination socket identifier.
func (p *Packet) DstID() uint32 {
	return p.Header[3]
}

// SetDstID sets the destination socket identifier.
func (p *Packet) SetDstID(id uint32) {
	p.Header[3] = id
}

// Length returns the payload length in bytes.
func (p *Packet) Length() int {
	return len(p.Data)
}

func newControl(t Type, sub uint16, info int32, body []uint32) Packet {
	var p Packet
	p.Header[0] = flagControl | uint32(t)<<shiftType | uint32(sub)
	p.Header[1] = uint32(info)
	if len(body) > 0 {
		p.Data = make([]byte, len(body)*4)
		for i, w := range body {
			hostOrder.PutUint32(p.Data[i*4:], w)
		}
	}
	return p
}

// NewData builds a data packet around the given payload slice. The payload
// is referenced, not copied.
func NewData(seq, msgno int32, bound Boundary, inOrder bool, payload []byte) Packet {
	var p Packet
	p.SetSeqNo(seq)
	p.SetMsg(msgno, bound, inOrder)
	p.Data = payload
	return p
}

// NewKeepAlive builds a KEEPALIVE control packet.
func NewKeepAlive() Packet {
	return newControl(TypeKeepAlive, 0, 0, nil)
}

// NewShutdown builds a SHUTDOWN control packet.
func NewShutdown() Packet {
	return newControl(TypeShutdown, 0, 0, nil)
}

// NewCongestionWarning builds a CONGESTION-WARNING control packet.
func NewCongestionWarning() Packet {
	return newControl(TypeCongestion, 0, 0, nil)
}

// NewErrorSignal builds an ERROR-SIGNAL control packet carrying the given
// error code as additional info.
func NewErrorSignal(code int32) Packet {
	return newControl(TypeError, 0, code, nil)
}

// NewAckLight builds a body-less cumulative acknowledgement of the next
// expected sequence number. The sequence rides in the additional-info word.
func NewAckLight(next int32) Packet {
	return newControl(TypeAck, 0, next, nil)
}

// Ack is the body of a full acknowledgement.
type Ack struct {
	Seq      int32 // next expected sequence number
	RTT      int32 // microseconds
	RTTVar   int32 // microseconds
	Avail    int32 // available receive buffer, packets
	Capacity int32 // estimated link capacity, packets per second
	RecvRate int32 // receive rate, packets per second
}

// NewAckFull builds a full acknowledgement. The tag identifies this ACK so
// the matching ACK² can echo it.
func NewAckFull(tag int32, a Ack) Packet {
	return newControl(TypeAck, 0, tag, []uint32{
		uint32(a.Seq), uint32(a.RTT), uint32(a.RTTVar),
		uint32(a.Avail), uint32(a.Capacity), uint32(a.RecvRate),
	})
}

// IsFullAck reports whether an ACK packet carries the full body.
func (p *Packet) IsFullAck() bool {
	return p.ControlType() == TypeAck && len(p.Data) >= 24
}

// AckBody decodes an ACK packet. A light ACK carries the next expected
// sequence in its additional-info word and yields only Seq; a full ACK
// carries the ACK tag there and the six-word body decoded here.
func (p *Packet) AckBody() Ack {
	var a Ack
	if len(p.Data) < 4 {
		a.Seq = p.AddInfo()
		return a
	}
	a.Seq = int32(hostOrder.Uint32(p.Data))
	if len(p.Data) >= 24 {
		a.RTT = int32(hostOrder.Uint32(p.Data[4:]))
		a.RTTVar = int32(hostOrder.Uint32(p.Data[8:]))
		a.Avail = int32(hostOrder.Uint32(p.Data[12:]))
		a.Capacity = int32(hostOrder.Uint32(p.Data[16:]))
		a.RecvRate = int32(hostOrder.Uint32(p.Data[20:]))
	}
	return a
}

// NewAck2 builds an ACK² echo of the ACK identified by tag.
func NewAck2(tag int32) Packet {
	return newControl(TypeAck2, 0, tag, nil)
}

// NewNak builds a NAK naming the given encoded loss ranges (see
// EncodeLoss / DecodeLoss).
func NewNak(ranges []uint32) Packet {
	return newControl(TypeNak, 0, 0, ranges)
}

// NakBody returns the encoded loss ranges carried by a NAK packet.
func (p *Packet) NakBody() []uint32 {
	n := len(p.Data) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = hostOrder.Uint32(p.Data[i*4:])
	}
	return out
}

// NewMsgDrop builds a MSG-DROP-REQ covering the sequence span
// [first, last] of message msgno.
func NewMsgDrop(msgno, first, last int32) Packet {
	return newControl(TypeMsgDrop, 0, msgno, []uint32{uint32(first), uint32(last)})
}

// MsgDropBody returns the first and last sequence of a MSG-DROP-REQ span.
func (p *Packet) MsgDropBody() (first, last int32) {
	if len(p.Data) >= 8 {
		first = int32(hostOrder.Uint32(p.Data))
		last = int32(hostOrder.Uint32(p.Data[4:]))
	}
	return
}
