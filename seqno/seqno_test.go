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

package seqno_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seesky/poleis/seqno"
)

var _ = Describe("SeqNo", func() {
	Context("increment and decrement", func() {
		It("should wrap at the top of the space", func() {
			Expect(seqno.Incr(seqno.MaxSeqNo)).To(Equal(int32(0)))
			Expect(seqno.Decr(0)).To(Equal(seqno.MaxSeqNo))
		})

		It("should step by one inside the space", func() {
			Expect(seqno.Incr(41)).To(Equal(int32(42)))
			Expect(seqno.Decr(42)).To(Equal(int32(41)))
		})

		It("should step by an arbitrary amount across the wrap", func() {
			Expect(seqno.Inc(seqno.MaxSeqNo-1, 3)).To(Equal(int32(1)))
			Expect(seqno.Inc(10, 5)).To(Equal(int32(15)))
		})
	})

	Context("comparison", func() {
		It("should order numbers on the same side of the space", func() {
			Expect(seqno.Cmp(5, 9)).To(BeNumerically("<", 0))
			Expect(seqno.Cmp(9, 5)).To(BeNumerically(">", 0))
			Expect(seqno.Cmp(7, 7)).To(BeZero())
		})

		It("should order numbers across the wrap", func() {
			Expect(seqno.Cmp(seqno.MaxSeqNo, 0)).To(BeNumerically("<", 0))
			Expect(seqno.Cmp(0, seqno.MaxSeqNo)).To(BeNumerically(">", 0))
		})

		It("should be anti-symmetric for live distances", func() {
			r := rand.New(rand.NewSource(1))
			for i := 0; i < 1000; i++ {
				u := r.Int31n(seqno.MaxSeqNo + 1)
				d := r.Int31n(seqno.Thresh)
				v := seqno.Inc(u, d)
				if u == v {
					continue
				}
				Expect(seqno.Cmp(u, v) > 0).To(Equal(seqno.Cmp(v, u) < 0))
			}
		})
	})

	Context("span length and offset", func() {
		It("should count an inclusive span", func() {
			Expect(seqno.Length(3, 7)).To(Equal(5))
			Expect(seqno.Length(7, 7)).To(Equal(1))
		})

		It("should count a span across the wrap", func() {
			Expect(seqno.Length(seqno.MaxSeqNo-1, 1)).To(Equal(4))
		})

		It("should grow by one when the upper bound is incremented", func() {
			r := rand.New(rand.NewSource(2))
			for i := 0; i < 1000; i++ {
				u := r.Int31n(seqno.MaxSeqNo + 1)
				d := r.Int31n(seqno.Thresh - 1)
				v := seqno.Inc(u, d)
				Expect(seqno.Length(u, seqno.Incr(v))).To(Equal(seqno.Length(u, v) + 1))
			}
		})

		It("should return signed offsets across the wrap", func() {
			Expect(seqno.Off(seqno.MaxSeqNo, 2)).To(Equal(3))
			Expect(seqno.Off(2, seqno.MaxSeqNo)).To(Equal(-3))
			Expect(seqno.Off(10, 4)).To(Equal(-6))
		})
	})

	Context("message numbers", func() {
		It("should wrap in the 29-bit space", func() {
			Expect(seqno.MsgIncr(seqno.MaxMsgNo)).To(Equal(int32(0)))
			Expect(seqno.MsgCmp(seqno.MaxMsgNo, 0)).To(BeNumerically("<", 0))
			Expect(seqno.MsgLength(seqno.MaxMsgNo, 0)).To(Equal(2))
			Expect(seqno.MsgOff(seqno.MaxMsgNo, 1)).To(Equal(2))
		})
	})
})
