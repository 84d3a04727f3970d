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

package congestion_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seesky/poleis/congestion"
)

var _ = Describe("Congestion Controller", func() {
	Context("initial state", func() {
		It("should start at a one microsecond period with a window of 16", func() {
			c := congestion.New()
			Expect(c.Period()).To(Equal(1.0))
			Expect(c.Window()).To(Equal(congestion.InitialWindow))
			Expect(c.InSlowStart()).To(BeTrue())
		})
	})

	Context("slow start", func() {
		It("should grow the window by the newly acknowledged count", func() {
			c := congestion.New()
			c.OnAck(10, 8192, 10000, 0, 0)
			Expect(c.Window()).To(Equal(26))
		})

		It("should end when the window reaches the advertised buffer", func() {
			c := congestion.New()
			c.OnAck(100, 64, 10000, 50000, 100000)
			Expect(c.InSlowStart()).To(BeFalse())
			Expect(c.Window()).To(BeNumerically("<=", 64))
		})

		It("should end on the first loss event", func() {
			c := congestion.New()
			Expect(c.OnLoss(5, 20)).To(BeTrue())
			Expect(c.InSlowStart()).To(BeFalse())
		})
	})

	Context("loss events", func() {
		It("should back the period off by 12.5 percent", func() {
			c := congestion.New()
			before := c.Period()
			c.OnLoss(5, 20)
			Expect(c.Period()).To(BeNumerically("~", before*1.125, 1e-9))
		})

		It("should apply at most one back-off per loss event span", func() {
			c := congestion.New()
			Expect(c.OnLoss(5, 20)).To(BeTrue())
			after := c.Period()

			// repeated NAKs for the same span within one round-trip
			Expect(c.OnLoss(5, 25)).To(BeFalse())
			Expect(c.OnLoss(6, 25)).To(BeFalse())
			Expect(c.OnLoss(20, 25)).To(BeFalse())
			Expect(c.Period()).To(Equal(after))

			// a loss beyond the covered span is a new event
			Expect(c.OnLoss(21, 30)).To(BeTrue())
			Expect(c.Period()).To(BeNumerically(">", after))
		})

		It("should treat a congestion warning as a forced loss event", func() {
			c := congestion.New()
			before := c.Period()
			c.OnWarning(40)
			Expect(c.Period()).To(BeNumerically("~", before*1.125, 1e-9))
			Expect(c.OnLoss(39, 45)).To(BeFalse())
		})
	})

	Context("rate control tick", func() {
		It("should leave the period untouched during slow start", func() {
			c := congestion.New()
			c.Tick()
			Expect(c.Period()).To(Equal(1.0))
		})

		It("should raise the rate toward capacity when below it", func() {
			c := congestion.New()
			c.OnLoss(5, 20) // leave slow start
			c.OnAck(1, 8192, 10000, 40000, 2000000)
			before := c.Period()
			c.Tick()
			Expect(c.Period()).To(BeNumerically("<", before))
			Expect(c.Period()).To(BeNumerically(">=", congestion.MinPeriod))
		})

		It("should back off when the receive rate reaches capacity", func() {
			c := congestion.New()
			c.OnLoss(5, 20)
			c.OnAck(1, 8192, 10000, 100000, 100000)
			before := c.Period()
			c.Tick()
			Expect(c.Period()).To(BeNumerically(">", before))
		})

		It("should never drop the period below the floor", func() {
			c := congestion.New()
			c.OnLoss(5, 20)
			c.OnAck(1, 8192, 10000, 1000, 2000000)
			for i := 0; i < 100; i++ {
				c.Tick()
			}
			Expect(c.Period()).To(BeNumerically(">=", congestion.MinPeriod))
		})
	})

	Context("window cap", func() {
		It("should cap at 1000 packets", func() {
			c := congestion.New()
			for i := 0; i < 200; i++ {
				c.OnAck(100, 0, 10000, 0, 0)
			}
			Expect(c.Window()).To(BeNumerically("<=", congestion.MaxWindow))
		})

		It("should cap at the advertised buffer when smaller", func() {
			c := congestion.New()
			c.OnAck(500, 100, 10000, 0, 0)
			Expect(c.Window()).To(BeNumerically("<=", 100))
		})
	})
})
