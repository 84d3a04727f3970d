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

package transport_test

import (
	"bytes"
	"math/rand"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seesky/poleis/packet"
	"github.com/seesky/poleis/transport"
)

func recvAll(c *transport.Conn, n int, timeout time.Duration) []byte {
	var (
		out      = make([]byte, 0, n)
		buf      = make([]byte, 4096)
		deadline = time.Now().Add(timeout)
	)

	for len(out) < n && time.Now().Before(deadline) {
		r, err := c.Recv(buf)
		if r > 0 {
			out = append(out, buf[:r]...)
		}
		if err != nil || r == 0 {
			break
		}
	}

	return out
}

var _ = Describe("Transport Engine", func() {
	var opts transport.Options

	BeforeEach(func() {
		opts = transport.DefaultOptions()
		opts.MTU = 160 // small payloads keep the tests quick
		opts.RcvTimeout = 3 * time.Second
	})

	Context("ordered stream delivery", func() {
		It("should deliver submitted bytes exactly once, in order", func() {
			a, b, _, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			payload := []byte("the quick brown fox jumps over the lazy dog")
			n, err := a.Send(payload)
			Expect(err).To(BeNil())
			Expect(n).To(Equal(len(payload)))

			Expect(recvAll(b, len(payload), 3*time.Second)).To(Equal(payload))
		})

		It("should deliver both directions independently", func() {
			a, b, _, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			_, err := a.Send([]byte("ping"))
			Expect(err).To(BeNil())
			_, err = b.Send([]byte("pong"))
			Expect(err).To(BeNil())

			Expect(recvAll(b, 4, 3*time.Second)).To(Equal([]byte("ping")))
			Expect(recvAll(a, 4, 3*time.Second)).To(Equal([]byte("pong")))
		})

		It("should deliver a multi-packet payload through uniform loss", func() {
			a, b, chA, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			// 20% uniform drop on first transmissions of data packets
			r := rand.New(rand.NewSource(7))
			seen := map[int32]bool{}
			chA.setDrop(func(p *packet.Packet) bool {
				if p.IsControl() {
					return false
				}
				if seen[p.SeqNo()] {
					return false // never drop a retransmission
				}
				seen[p.SeqNo()] = true
				return r.Intn(100) < 20
			})

			payload := bytes.Repeat([]byte("0123456789abcdef"), 512) // 8 KiB
			go func() { _, _ = a.Send(payload) }()

			Expect(recvAll(b, len(payload), 10*time.Second)).To(Equal(payload))
		})
	})

	Context("loss, NAK and retransmission", func() {
		It("should repair a dropped range and count one NAK", func() {
			a, b, chA, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			// drop the first transmission of the 5th and 6th data packets
			var dataIdx int32
			chA.setDrop(func(p *packet.Packet) bool {
				if p.IsControl() {
					return false
				}
				i := atomic.AddInt32(&dataIdx, 1)
				return i == 5 || i == 6
			})

			payload := bytes.Repeat([]byte("x"), (opts.MTU-packet.HeaderSize)*10)
			go func() { _, _ = a.Send(payload) }()

			Expect(recvAll(b, len(payload), 10*time.Second)).To(Equal(payload))

			stats := a.Perfmon()
			Expect(stats.PktRecvNAK).To(BeNumerically(">=", 1))
			Expect(stats.PktRetrans).To(BeNumerically(">=", 2))
			// the loss event backed the pacing clock off its floor
			Expect(stats.PacingPeriodUs).To(BeNumerically(">", 1))

			peer := b.Perfmon()
			Expect(peer.PktSentNAK).To(BeNumerically(">=", 1))
		})
	})

	Context("acknowledgement round trip", func() {
		It("should echo exactly one ACK2 per delivered full ACK", func() {
			a, b, chA, chB := connPair(opts, opts)

			var fullAcks, ack2s atomic.Int64
			chB.setTap(func(p *packet.Packet) {
				if p.IsControl() && p.IsFullAck() {
					fullAcks.Add(1)
				}
			})
			chA.setTap(func(p *packet.Packet) {
				if p.IsControl() && p.ControlType() == packet.TypeAck2 {
					ack2s.Add(1)
				}
			})

			payload := bytes.Repeat([]byte("y"), 4096)
			_, _ = a.Send(payload)
			Expect(recvAll(b, len(payload), 5*time.Second)).To(HaveLen(len(payload)))

			// quiesce, then compare totals
			time.Sleep(200 * time.Millisecond)
			_ = a.Close()
			_ = b.Close()

			Expect(ack2s.Load()).To(BeNumerically("~", fullAcks.Load(), 2))
		})
	})

	Context("message mode", func() {
		It("should hand each message back whole", func() {
			a, b, _, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			one := bytes.Repeat([]byte("a"), 300) // spans several packets
			two := []byte("short")

			_, err := a.SendMsg(one, true, 0)
			Expect(err).To(BeNil())
			_, err = a.SendMsg(two, true, 0)
			Expect(err).To(BeNil())

			msg, rerr := b.RecvMsg(false)
			Expect(rerr).To(BeNil())
			Expect(msg).To(Equal(one))

			msg, rerr = b.RecvMsg(false)
			Expect(rerr).To(BeNil())
			Expect(msg).To(Equal(two))
		})

		It("should refuse a message beyond the maximum message size", func() {
			o := opts
			o.MaxMsg = 64
			a, b, _, _ := connPair(o, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			_, err := a.SendMsg(bytes.Repeat([]byte("z"), 65), true, 0)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(transport.ErrorMsgTooLarge)).To(BeTrue())
		})

		It("should drop an expired message whole, never partially", func() {
			a, b, chA, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			// the first message's packets never make it to the peer
			chA.setDrop(func(p *packet.Packet) bool {
				return !p.IsControl() && len(p.Data) > 0 && p.Data[0] == 'X'
			})

			doomed := bytes.Repeat([]byte("X"), 300)
			_, err := a.SendMsg(doomed, true, 40*time.Millisecond)
			Expect(err).To(BeNil())

			_, err = a.SendMsg([]byte("survivor"), true, 0)
			Expect(err).To(BeNil())

			msg, rerr := b.RecvMsg(false)
			Expect(rerr).To(BeNil())
			Expect(msg).To(Equal([]byte("survivor")))
		})
	})

	Context("non-blocking mode", func() {
		It("should fail a recv with the would-block code instead of waiting", func() {
			o := opts
			o.SyncRecv = false
			o.RcvTimeout = 0
			a, b, _, _ := connPair(opts, o)
			defer func() { _ = a.Close(); _ = b.Close() }()

			buf := make([]byte, 16)
			_, err := b.Recv(buf)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(transport.ErrorWouldBlock)).To(BeTrue())
		})
	})

	Context("shutdown", func() {
		It("should end the peer's stream with zero after close", func() {
			a, b, _, _ := connPair(opts, opts)
			defer func() { _ = b.Close() }()

			payload := []byte("last words")
			_, _ = a.Send(payload)
			Expect(recvAll(b, len(payload), 3*time.Second)).To(Equal(payload))

			Expect(a.Close()).To(BeNil())

			buf := make([]byte, 16)
			Eventually(func() bool {
				n, err := b.Recv(buf)
				return n == 0 && err == nil
			}, 5*time.Second, 50*time.Millisecond).Should(BeTrue())
		})

		It("should fail sends on a broken connection immediately", func() {
			o := opts
			o.ExpTimeout = 300 * time.Millisecond
			a, b, chA, _ := connPair(opts, o)
			defer func() { _ = a.Close(); _ = b.Close() }()

			// silence the link toward b, then go away
			chA.setDrop(func(p *packet.Packet) bool { return true })
			_ = a.Close()

			Eventually(func() transport.State { return b.State() },
				5*time.Second, 50*time.Millisecond).Should(Equal(transport.StateBroken))

			_, err := b.Send([]byte("too late"))
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(transport.ErrorConnBroken)).To(BeTrue())
		})
	})

	Context("handshake", func() {
		It("should time out against a silent peer and end closed", func() {
			chA, _ := newMemPair()

			o := opts
			o.HandshakeTimeout = 300 * time.Millisecond

			c := transport.New(chA, 9, 777, o)
			start := time.Now()
			err := c.Connect(nil)

			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(transport.ErrorHandshakeTimeout)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically(">=", 250*time.Millisecond))
			Expect(c.State()).To(Equal(transport.StateClosed))
		})

		It("should rendezvous two initiators", func() {
			chA, chB := newMemPair()

			o := opts
			o.Rendezvous = true
			o.HandshakeTimeout = 3 * time.Second

			a := transport.New(chA, 11, 100, o)
			b := transport.New(chB, 22, 200, o)

			errs := make(chan error, 2)
			go func() { errs <- asErr(a.Connect(nil)) }()
			go func() { errs <- asErr(b.Connect(nil)) }()

			Eventually(errs, 5*time.Second).Should(Receive(BeNil()))
			Eventually(errs, 5*time.Second).Should(Receive(BeNil()))

			defer func() { _ = a.Close(); _ = b.Close() }()

			_, err := a.Send([]byte("hello"))
			Expect(err).To(BeNil())
			Expect(recvAll(b, 5, 3*time.Second)).To(Equal([]byte("hello")))
		})
	})

	Context("perfmon", func() {
		It("should expose pacing, window and counters", func() {
			a, b, _, _ := connPair(opts, opts)
			defer func() { _ = a.Close(); _ = b.Close() }()

			payload := bytes.Repeat([]byte("p"), 2048)
			_, _ = a.Send(payload)
			Expect(recvAll(b, len(payload), 3*time.Second)).To(HaveLen(len(payload)))

			s := a.Perfmon()
			Expect(s.PktSent).To(BeNumerically(">", 0))
			Expect(s.BytesSent).To(BeNumerically(">=", int64(len(payload))))
			Expect(s.PktRecvACK).To(BeNumerically(">", 0))
			Expect(s.CongestionWindow).To(BeNumerically(">=", 1))
			Expect(s.PacingPeriodUs).To(BeNumerically(">=", 1))
		})
	})
})

func asErr(e interface{ Error() string }) error {
	if e == nil {
		return nil
	}
	return e
}
