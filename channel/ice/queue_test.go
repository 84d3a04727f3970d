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

package ice

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Receive Queue", func() {
	Context("ordering", func() {
		It("should deliver arrivals in enqueue order", func() {
			q := newRecvQueue(64)
			for i := 0; i < 32; i++ {
				q.push([]byte(fmt.Sprintf("pkt-%02d", i)))
			}

			for i := 0; i < 32; i++ {
				b, open := q.pop(50 * time.Millisecond)
				Expect(open).To(BeTrue())
				Expect(string(b)).To(Equal(fmt.Sprintf("pkt-%02d", i)))
			}
		})

		It("should discard the oldest arrival when saturated", func() {
			q := newRecvQueue(2)
			q.push([]byte("a"))
			q.push([]byte("b"))
			q.push([]byte("c"))

			b, _ := q.pop(10 * time.Millisecond)
			Expect(string(b)).To(Equal("b"))
			b, _ = q.pop(10 * time.Millisecond)
			Expect(string(b)).To(Equal("c"))
		})
	})

	Context("bounded pop", func() {
		It("should time out on an empty queue and stay open", func() {
			q := newRecvQueue(4)
			start := time.Now()
			b, open := q.pop(30 * time.Millisecond)
			Expect(b).To(BeNil())
			Expect(open).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically(">=", 25*time.Millisecond))
		})

		It("should wake a blocked pop when an arrival lands", func() {
			q := newRecvQueue(4)
			go func() {
				time.Sleep(10 * time.Millisecond)
				q.push([]byte("late"))
			}()

			b, open := q.pop(500 * time.Millisecond)
			Expect(open).To(BeTrue())
			Expect(string(b)).To(Equal("late"))
		})
	})

	Context("teardown", func() {
		It("should release a blocked pop with the closed outcome", func() {
			q := newRecvQueue(4)

			done := make(chan bool, 1)
			go func() {
				_, open := q.pop(5 * time.Second)
				done <- open
			}()

			time.Sleep(10 * time.Millisecond)
			q.sentinel()

			Eventually(done, time.Second).Should(Receive(BeFalse()))
		})

		It("should refuse arrivals after the sentinel", func() {
			q := newRecvQueue(4)
			q.sentinel()
			q.push([]byte("x"))

			b, open := q.pop(10 * time.Millisecond)
			Expect(b).To(BeNil())
			Expect(open).To(BeFalse())
		})
	})
})
