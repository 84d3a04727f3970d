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

package socket_test

import (
	"bytes"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seesky/poleis/socket"
	"github.com/seesky/poleis/transfer"
	"github.com/seesky/poleis/transport"
)

// listenLocal binds a listener on the loopback and returns it with its
// address.
func listenLocal() (*socket.Socket, string) {
	srv, err := socket.New()
	Expect(err).To(BeNil())
	Expect(srv.Bind("127.0.0.1:0")).To(BeNil())
	Expect(srv.Listen(4)).To(BeNil())

	addr := srv.LocalAddr()
	Expect(addr).ToNot(BeNil())
	return srv, fmt.Sprintf("127.0.0.1:%d", addr.Port)
}

// dialLocal connects a fresh socket to addr.
func dialLocal(addr string) *socket.Socket {
	clt, err := socket.New()
	Expect(err).To(BeNil())
	Expect(clt.Connect(addr)).To(BeNil())
	return clt
}

var _ = Describe("Socket Surface", func() {
	Context("runtime lifecycle", func() {
		It("should count nested startups", func() {
			Expect(socket.Startup()).To(BeNil())
			s, err := socket.New()
			Expect(err).To(BeNil())
			Expect(s.Close()).To(BeNil())
			Expect(socket.Cleanup()).To(BeNil())

			// the suite-level startup still holds the runtime open
			_, err = socket.New()
			Expect(err).To(BeNil())
		})

		It("should resolve identifiers through the registry", func() {
			s, err := socket.New()
			Expect(err).To(BeNil())
			defer func() { _ = s.Close() }()

			got, lerr := socket.Lookup(s.ID())
			Expect(lerr).To(BeNil())
			Expect(got).To(BeIdenticalTo(s))

			_, lerr = socket.Lookup(0xDEAD)
			Expect(lerr).ToNot(BeNil())
			Expect(lerr.IsCode(socket.ErrorInvalidSocket)).To(BeTrue())
		})
	})

	Context("connect and accept", func() {
		It("should establish a connection and move both ends to CONNECTED", func() {
			srv, addr := listenLocal()
			defer func() { _ = srv.Close() }()

			clt := dialLocal(addr)
			defer func() { _ = clt.Close() }()

			acc, peer, err := srv.Accept()
			Expect(err).To(BeNil())
			defer func() { _ = acc.Close() }()

			Expect(peer).ToNot(BeNil())
			Expect(clt.State()).To(Equal(transport.StateConnected))
			Expect(acc.State()).To(Equal(transport.StateConnected))
		})

		It("should carry a bytestream end to end", func() {
			srv, addr := listenLocal()
			defer func() { _ = srv.Close() }()

			clt := dialLocal(addr)
			defer func() { _ = clt.Close() }()

			acc, _, err := srv.Accept()
			Expect(err).To(BeNil())
			defer func() { _ = acc.Close() }()

			payload := bytes.Repeat([]byte("stream"), 1000)
			go func() { _, _ = clt.Send(payload) }()

			got := make([]byte, 0, len(payload))
			buf := make([]byte, 4096)
			deadline := time.Now().Add(5 * time.Second)
			for len(got) < len(payload) && time.Now().Before(deadline) {
				n, rerr := acc.Recv(buf)
				if n > 0 {
					got = append(got, buf[:n]...)
				}
				if rerr != nil {
					break
				}
			}

			Expect(got).To(Equal(payload))
		})

		It("should serve several clients over the one listener channel", func() {
			srv, addr := listenLocal()
			defer func() { _ = srv.Close() }()

			c1 := dialLocal(addr)
			defer func() { _ = c1.Close() }()
			c2 := dialLocal(addr)
			defer func() { _ = c2.Close() }()

			a1, _, err := srv.Accept()
			Expect(err).To(BeNil())
			defer func() { _ = a1.Close() }()
			a2, _, err := srv.Accept()
			Expect(err).To(BeNil())
			defer func() { _ = a2.Close() }()

			_, _ = c1.Send([]byte("one"))
			_, _ = c2.Send([]byte("two"))

			buf := make([]byte, 16)
			got := map[string]bool{}
			for _, acc := range []*socket.Socket{a1, a2} {
				n, rerr := acc.Recv(buf)
				Expect(rerr).To(BeNil())
				got[string(buf[:n])] = true
			}

			Expect(got).To(HaveKey("one"))
			Expect(got).To(HaveKey("two"))
		})

		It("should fail connect with the handshake code against a silent peer", func() {
			clt, err := socket.New()
			Expect(err).To(BeNil())
			defer func() { _ = clt.Close() }()

			clt.SetHandshakeTimeout(500 * time.Millisecond)

			// a port nothing answers on
			start := time.Now()
			cerr := clt.Connect("127.0.0.1:1")

			Expect(cerr).ToNot(BeNil())
			Expect(cerr.IsCode(transport.ErrorHandshakeTimeout)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically(">=", 400*time.Millisecond))
			Expect(clt.State()).To(Equal(transport.StateClosed))
		})
	})

	Context("file transfer over the stream", func() {
		It("should deliver the documented byte sequence for a tiny file", func() {
			srv, addr := listenLocal()
			defer func() { _ = srv.Close() }()

			clt := dialLocal(addr)
			defer func() { _ = clt.Close() }()

			acc, _, err := srv.Accept()
			Expect(err).To(BeNil())
			defer func() { _ = acc.Close() }()

			content := []byte("abc")
			go func() {
				defer GinkgoRecover()
				var hdr bytes.Buffer
				Expect(transfer.WriteHeader(&hdr, transfer.Header{Name: "x", Size: 3})).To(BeNil())
				_, serr := clt.Send(hdr.Bytes())
				Expect(serr).To(BeNil())
				_, serr = clt.SendFile(bytes.NewReader(content), 3)
				Expect(serr).To(BeNil())
			}()

			h, herr := transfer.ReadHeader(sockReader{acc})
			Expect(herr).To(BeNil())
			Expect(h.Name).To(Equal("x"))
			Expect(h.Size).To(Equal(int64(3)))

			var out bytes.Buffer
			n, rerr := acc.RecvFile(&out, h.Size)
			Expect(rerr).To(BeNil())
			Expect(n).To(Equal(int64(3)))
			Expect(out.Bytes()).To(Equal([]byte{0x61, 0x62, 0x63}))
		})
	})

	Context("options", func() {
		It("should round-trip the standard option set", func() {
			s, err := socket.New()
			Expect(err).To(BeNil())
			defer func() { _ = s.Close() }()

			Expect(s.SetOption(socket.OptMSS, 1400)).To(BeNil())
			v, gerr := s.GetOption(socket.OptMSS)
			Expect(gerr).To(BeNil())
			Expect(v).To(Equal(1400))

			Expect(s.SetOption(socket.OptSndSyn, false)).To(BeNil())
			v, _ = s.GetOption(socket.OptSndSyn)
			Expect(v).To(Equal(false))

			Expect(s.SetOption(socket.OptMaxMsg, 1<<20)).To(BeNil())
			v, _ = s.GetOption(socket.OptMaxMsg)
			Expect(v).To(Equal(1 << 20))

			Expect(s.SetOption(socket.OptRendezvous, true)).To(BeNil())
			v, _ = s.GetOption(socket.OptRendezvous)
			Expect(v).To(Equal(true))
		})

		It("should reject a wrongly typed value", func() {
			s, err := socket.New()
			Expect(err).To(BeNil())
			defer func() { _ = s.Close() }()

			serr := s.SetOption(socket.OptMSS, "not a number")
			Expect(serr).ToNot(BeNil())
			Expect(serr.IsCode(socket.ErrorOptionValue)).To(BeTrue())
		})

		It("should refuse ICE options on a plain socket", func() {
			s, err := socket.New()
			Expect(err).To(BeNil())
			defer func() { _ = s.Close() }()

			_, gerr := s.GetOption(socket.OptIceUfrag)
			Expect(gerr).ToNot(BeNil())
			Expect(gerr.IsCode(socket.ErrorNoICE)).To(BeTrue())
		})
	})

	Context("event multiplexer", func() {
		It("should report readability on data arrival and writability when connected", func() {
			srv, addr := listenLocal()
			defer func() { _ = srv.Close() }()

			clt := dialLocal(addr)
			defer func() { _ = clt.Close() }()

			acc, _, err := srv.Accept()
			Expect(err).To(BeNil())
			defer func() { _ = acc.Close() }()

			ep, eerr := socket.NewEpoll()
			Expect(eerr).To(BeNil())
			Expect(ep.Add(acc, socket.EventRead|socket.EventWrite)).To(BeNil())

			// connected and empty: writable only
			r, werr := ep.Wait(time.Second)
			Expect(werr).To(BeNil())
			Expect(r.Write).To(ContainElement(acc))
			Expect(r.Read).To(BeEmpty())

			_, _ = clt.Send([]byte("wake"))

			Eventually(func() bool {
				r, _ := ep.Wait(100 * time.Millisecond)
				return len(r.Read) == 1
			}, 3*time.Second, 50*time.Millisecond).Should(BeTrue())
		})

		It("should time out with the timeout code when nothing is ready", func() {
			s, err := socket.New()
			Expect(err).To(BeNil())
			defer func() { _ = s.Close() }()

			ep, eerr := socket.NewEpoll()
			Expect(eerr).To(BeNil())
			Expect(ep.Add(s, socket.EventRead)).To(BeNil())

			_, werr := ep.Wait(50 * time.Millisecond)
			Expect(werr).ToNot(BeNil())
			Expect(werr.IsCode(transport.ErrorTimeout)).To(BeTrue())
		})
	})
})

// sockReader adapts a socket's stream receive to io.Reader for the
// framing helpers.
type sockReader struct {
	s *socket.Socket
}

func (r sockReader) Read(p []byte) (int, error) {
	n, err := r.s.Recv(p)
	if err != nil {
		return n, err
	}
	return n, nil
}
