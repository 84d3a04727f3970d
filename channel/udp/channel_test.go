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

package udp_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libchn "github.com/seesky/poleis/channel"
	chnudp "github.com/seesky/poleis/channel/udp"
	"github.com/seesky/poleis/packet"
)

func openPair() (libchn.Channel, libchn.Channel) {
	a, err := chnudp.New(chnudp.Config{LocalAddr: "127.0.0.1:0"})
	Expect(err).To(BeNil())
	Expect(a.Open()).To(BeNil())

	b, err := chnudp.New(chnudp.Config{LocalAddr: "127.0.0.1:0"})
	Expect(err).To(BeNil())
	Expect(b.Open()).To(BeNil())

	return a, b
}

var _ = Describe("Channel UDP", func() {
	Context("lifecycle", func() {
		It("should bind an ephemeral local endpoint on open", func() {
			c, err := chnudp.New(chnudp.Config{LocalAddr: "127.0.0.1:0"})
			Expect(err).To(BeNil())
			Expect(c.Open()).To(BeNil())
			defer func() { _ = c.Close() }()

			Expect(c.LocalAddr()).ToNot(BeNil())
			Expect(c.LocalAddr().Port).ToNot(BeZero())
		})

		It("should be idempotent on reopen", func() {
			c, err := chnudp.New(chnudp.Config{LocalAddr: "127.0.0.1:0"})
			Expect(err).To(BeNil())
			Expect(c.Open()).To(BeNil())
			defer func() { _ = c.Close() }()

			port := c.LocalAddr().Port
			Expect(c.Open()).To(BeNil())
			Expect(c.LocalAddr().Port).To(Equal(port))
		})

		It("should fail send and recv with the closed code after close", func() {
			c, err := chnudp.New(chnudp.Config{LocalAddr: "127.0.0.1:0"})
			Expect(err).To(BeNil())
			Expect(c.Open()).To(BeNil())
			Expect(c.Close()).To(BeNil())

			p := packet.NewKeepAlive()
			_, serr := c.SendTo(nil, &p)
			Expect(libchn.IsClosed(serr)).To(BeTrue())

			var in packet.Packet
			_, _, rerr := c.RecvFrom(&in)
			Expect(libchn.IsClosed(rerr)).To(BeTrue())
		})
	})

	Context("datagram exchange", func() {
		It("should carry one packet per datagram", func() {
			a, b := openPair()
			defer func() { _ = a.Close(); _ = b.Close() }()

			out := packet.NewData(3, 1, packet.BoundSolo, true, []byte("payload"))
			out.SetDstID(9)

			_, err := a.SendTo(b.LocalAddr(), &out)
			Expect(err).To(BeNil())

			var in packet.Packet
			var n int
			Eventually(func() int {
				_, n, _ = b.RecvFrom(&in)
				return n
			}, time.Second, 5*time.Millisecond).Should(Equal(7))

			Expect(in.SeqNo()).To(Equal(int32(3)))
			Expect(in.DstID()).To(Equal(uint32(9)))
			Expect(in.Data).To(Equal([]byte("payload")))
		})

		It("should return the retry code when no packet is pending", func() {
			a, _ := openPair()
			defer func() { _ = a.Close() }()

			var in packet.Packet
			start := time.Now()
			_, _, err := a.RecvFrom(&in)
			Expect(libchn.IsAgain(err)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		})

		It("should release a blocked receive when closed", func() {
			a, _ := openPair()

			done := make(chan struct{})
			go func() {
				defer close(done)
				var in packet.Packet
				for {
					_, _, err := a.RecvFrom(&in)
					if libchn.IsClosed(err) {
						return
					}
				}
			}()

			time.Sleep(20 * time.Millisecond)
			Expect(a.Close()).To(BeNil())
			Eventually(done, time.Second).Should(BeClosed())
		})
	})

	Context("buffer sizes", func() {
		It("should keep advisory sizes and ignore non-positive values", func() {
			c, err := chnudp.New(chnudp.Config{LocalAddr: "127.0.0.1:0", SndBufSize: 1 << 20, RcvBufSize: 1 << 20})
			Expect(err).To(BeNil())
			Expect(c.SendBufSize()).To(Equal(1 << 20))
			Expect(c.RecvBufSize()).To(Equal(1 << 20))

			c.SetSendBufSize(-1)
			Expect(c.SendBufSize()).To(Equal(1 << 20))

			c.SetRecvBufSize(1 << 16)
			Expect(c.RecvBufSize()).To(Equal(1 << 16))
		})
	})
})
