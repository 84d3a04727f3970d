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

package capture_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seesky/poleis/capture"
)

var _ = Describe("Capture Framing", func() {
	Context("negotiation", func() {
		It("should round-trip the preamble", func() {
			var buf bytes.Buffer
			in := capture.Preamble{Encoder: "x264enc", Caps: "video/x-h264"}
			Expect(capture.WritePreamble(&buf, in)).To(BeNil())

			out, err := capture.ReadPreamble(&buf)
			Expect(err).To(BeNil())
			Expect(out).To(Equal(in))
		})

		It("should accept an empty caps string", func() {
			var buf bytes.Buffer
			Expect(capture.WritePreamble(&buf, capture.Preamble{Encoder: "h265x"})).To(BeNil())

			out, err := capture.ReadPreamble(&buf)
			Expect(err).To(BeNil())
			Expect(out.Encoder).To(Equal("h265x"))
			Expect(out.Caps).To(BeEmpty())
		})

		It("should answer an unusable encoder with the no-sink status bytes", func() {
			// the wire answer for "no suitable sink" is exactly 00 00 00 02
			var buf bytes.Buffer
			Expect(capture.WriteStatus(&buf, capture.StatusNoSink)).To(BeNil())
			Expect(buf.Bytes()).To(Equal([]byte{0x00, 0x00, 0x00, 0x02}))

			st, err := capture.ReadStatus(&buf)
			Expect(err).To(BeNil())
			Expect(st).To(Equal(capture.StatusNoSink))
		})

		It("should reject an oversized preamble field", func() {
			raw := []byte{0xFF, 0xFF, 0xFF, 0xFF}
			_, err := capture.ReadPreamble(bytes.NewReader(raw))
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(capture.ErrorPreamble)).To(BeTrue())
		})
	})

	Context("frame loop", func() {
		It("should round-trip a timestamped frame", func() {
			var buf bytes.Buffer
			in := capture.Frame{PTS: 90000, Duration: 3000, Flags: 1, Payload: []byte{1, 2, 3}}
			Expect(capture.WriteFrame(&buf, in)).To(BeNil())

			out, err := capture.ReadFrame(&buf, 0)
			Expect(err).To(BeNil())
			Expect(out).To(Equal(in))
		})

		It("should carry the none marker for absent timestamps", func() {
			var buf bytes.Buffer
			in := capture.Frame{PTS: capture.NoneValue, Duration: capture.NoneValue, Payload: []byte{9}}
			Expect(capture.WriteFrame(&buf, in)).To(BeNil())

			// all-ones on the wire
			Expect(buf.Bytes()[4:12]).To(Equal(bytes.Repeat([]byte{0xFF}, 8)))

			out, err := capture.ReadFrame(&buf, 0)
			Expect(err).To(BeNil())
			Expect(out.PTS).To(Equal(capture.NoneValue))
			Expect(out.Duration).To(Equal(capture.NoneValue))
		})

		It("should bound the accepted payload length", func() {
			var buf bytes.Buffer
			Expect(capture.WriteFrame(&buf, capture.Frame{Payload: bytes.Repeat([]byte{0}, 100)})).To(BeNil())

			_, err := capture.ReadFrame(&buf, 10)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(capture.ErrorFrameSize)).To(BeTrue())
		})

		It("should report truncation distinctly", func() {
			var buf bytes.Buffer
			Expect(capture.WriteFrame(&buf, capture.Frame{Payload: []byte{1, 2, 3}})).To(BeNil())

			_, err := capture.ReadFrame(bytes.NewReader(buf.Bytes()[:10]), 0)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(capture.ErrorStream)).To(BeTrue())
		})
	})
})
