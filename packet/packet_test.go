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

package packet_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seesky/poleis/packet"
)

func roundTrip(p packet.Packet) packet.Packet {
	buf := make([]byte, packet.HeaderSize+len(p.Data))
	n, err := packet.Marshal(&p, buf)
	Expect(err).To(BeNil())
	Expect(n).To(Equal(len(buf)))

	var out packet.Packet
	Expect(packet.Unmarshal(buf[:n], &out)).To(BeNil())
	return out
}

var _ = Describe("Packet Codec", func() {
	Context("data packets", func() {
		It("should carry sequence, message and timestamp fields through the wire", func() {
			p := packet.NewData(12345, 7, packet.BoundFirst, true, []byte("hello"))
			p.SetTimestamp(987654)
			p.SetDstID(42)

			out := roundTrip(p)
			Expect(out.IsControl()).To(BeFalse())
			Expect(out.SeqNo()).To(Equal(int32(12345)))
			Expect(out.MsgNo()).To(Equal(int32(7)))
			Expect(out.MsgBoundary()).To(Equal(packet.BoundFirst))
			Expect(out.InOrder()).To(BeTrue())
			Expect(out.Timestamp()).To(Equal(uint32(987654)))
			Expect(out.DstID()).To(Equal(uint32(42)))
			Expect(out.Data).To(Equal([]byte("hello")))
		})

		It("should serialize the header in network byte order", func() {
			p := packet.NewData(1, 0, packet.BoundSolo, false, nil)
			buf := make([]byte, packet.HeaderSize)
			_, err := packet.Marshal(&p, buf)
			Expect(err).To(BeNil())
			Expect(binary.BigEndian.Uint32(buf[0:4])).To(Equal(uint32(1)))
		})

		It("should preserve every boundary marking", func() {
			for _, b := range []packet.Boundary{packet.BoundMiddle, packet.BoundFirst, packet.BoundLast, packet.BoundSolo} {
				p := packet.NewData(9, 3, b, false, []byte{1})
				Expect(roundTrip(p).MsgBoundary()).To(Equal(b))
			}
		})
	})

	Context("control packets", func() {
		It("should round-trip a full acknowledgement", func() {
			a := packet.Ack{Seq: 100, RTT: 2500, RTTVar: 300, Avail: 8000, Capacity: 90000, RecvRate: 45000}
			p := packet.NewAckFull(17, a)
			out := roundTrip(p)
			Expect(out.ControlType()).To(Equal(packet.TypeAck))
			Expect(out.IsFullAck()).To(BeTrue())
			Expect(out.AddInfo()).To(Equal(int32(17)))
			Expect(out.AckBody()).To(Equal(a))
		})

		It("should round-trip a light acknowledgement without a body", func() {
			p := packet.NewAckLight(55)
			out := roundTrip(p)
			Expect(out.IsFullAck()).To(BeFalse())
			Expect(out.Length()).To(BeZero())
			Expect(out.AckBody().Seq).To(Equal(int32(55)))
		})

		It("should round-trip an ACK2 echo", func() {
			out := roundTrip(packet.NewAck2(17))
			Expect(out.ControlType()).To(Equal(packet.TypeAck2))
			Expect(out.AddInfo()).To(Equal(int32(17)))
		})

		It("should round-trip a handshake body", func() {
			h := packet.Handshake{
				Version:    packet.HandshakeVersion,
				SockType:   packet.SockStream,
				ISN:        424242,
				MTU:        1500,
				FlowWindow: 8192,
				ReqType:    packet.ReqRegular,
				SockID:     7,
				Cookie:     0x5EED,
				PeerIP:     [4]uint32{0x7F000001, 0, 0, 0},
			}
			out := roundTrip(packet.NewHandshake(h))
			got, err := out.HandshakeBody()
			Expect(err).To(BeNil())
			Expect(got).To(Equal(h))
		})

		It("should round-trip shutdown, keep-alive and congestion warnings", func() {
			Expect(roundTrip(packet.NewShutdown()).ControlType()).To(Equal(packet.TypeShutdown))
			Expect(roundTrip(packet.NewKeepAlive()).ControlType()).To(Equal(packet.TypeKeepAlive))
			Expect(roundTrip(packet.NewCongestionWarning()).ControlType()).To(Equal(packet.TypeCongestion))
		})

		It("should round-trip a message drop request", func() {
			p := packet.NewMsgDrop(9, 100, 105)
			out := roundTrip(p)
			Expect(out.ControlType()).To(Equal(packet.TypeMsgDrop))
			Expect(out.AddInfo()).To(Equal(int32(9)))
			first, last := out.MsgDropBody()
			Expect(first).To(Equal(int32(100)))
			Expect(last).To(Equal(int32(105)))
		})
	})

	Context("loss range encoding", func() {
		It("should encode a single loss as one word with the top bit clear", func() {
			enc := packet.EncodeLoss(33, 33)
			Expect(enc).To(HaveLen(1))
			Expect(enc[0] & 0x80000000).To(BeZero())
		})

		It("should encode a range as two words with the first top bit set", func() {
			enc := packet.EncodeLoss(4, 5)
			Expect(enc).To(HaveLen(2))
			Expect(enc[0] & 0x80000000).ToNot(BeZero())
			Expect(enc[1]).To(Equal(uint32(5)))
		})

		It("should decode mixed single and range entries in order", func() {
			body := append(packet.EncodeLoss(4, 5), packet.EncodeLoss(9, 9)...)
			var got [][2]int32
			err := packet.DecodeLoss(body, func(f, l int32) {
				got = append(got, [2]int32{f, l})
			})
			Expect(err).To(BeNil())
			Expect(got).To(Equal([][2]int32{{4, 5}, {9, 9}}))
		})

		It("should reject a truncated range", func() {
			err := packet.DecodeLoss([]uint32{0x80000004}, func(f, l int32) {})
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(packet.ErrorLossEncoding)).To(BeTrue())
		})

		It("should survive a NAK body round-trip", func() {
			body := append(packet.EncodeLoss(4, 5), packet.EncodeLoss(12, 12)...)
			out := roundTrip(packet.NewNak(body))
			Expect(out.ControlType()).To(Equal(packet.TypeNak))
			Expect(out.NakBody()).To(Equal(body))
		})
	})

	Context("malformed input", func() {
		It("should reject a datagram shorter than the header", func() {
			var p packet.Packet
			err := packet.Unmarshal(make([]byte, 10), &p)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(packet.ErrorPacketShort)).To(BeTrue())
		})

		It("should reject a misaligned control body", func() {
			buf := make([]byte, packet.HeaderSize+3)
			binary.BigEndian.PutUint32(buf, 1<<31)
			var p packet.Packet
			err := packet.Unmarshal(buf, &p)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(packet.ErrorBodyAlign)).To(BeTrue())
		})
	})
})
