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

// Package congestion implements the transport's rate and window
// controller. The sender consults it on every pacing tick; feedback from
// ACK and NAK arrivals is applied under a small lock so the controller is
// always observed atomically.
package congestion

import (
	"sync"
	"time"

	"github.com/seesky/poleis/seqno"
)

const (
	// InitialWindow is the congestion window at connection start.
	InitialWindow = 16

	// MaxWindow caps the congestion window in packets, before the
	// receiver's advertised buffer is applied.
	MaxWindow = 1000

	// MinPeriod is the floor of the inter-packet sending period.
	MinPeriod = 1.0 // microseconds

	backoffFactor = 1.125
	settleMax     = 64
)

// Controller holds the inter-packet sending period and the congestion
// window, and reacts to acknowledgement, loss and rate feedback.
type Controller struct {
	mu sync.Mutex

	period    float64 // microseconds between packet emissions
	window    float64 // packets allowed in flight
	slowStart bool

	recvRate int32 // smoothed peer receive rate, pkts/s
	capacity int32 // smoothed link capacity estimate, pkts/s

	lastDecSeq int32 // newest sequence covered by the last loss event
	settle     int   // rate-probe settling counter
}

// New returns a controller in its initial state: period 1us, window 16,
// slow start active.
func New() *Controller {
	return &Controller{
		period:     MinPeriod,
		window:     InitialWindow,
		slowStart:  true,
		lastDecSeq: -1,
		settle:     1,
	}
}

// OnAck feeds one acknowledgement: the count of newly acknowledged
// packets, the peer's advertised receive buffer (packets), the smoothed
// round-trip time in microseconds, and the rate estimates carried by a
// full ACK (zero when absent).
func (c *Controller) OnAck(newlyAcked int, advertised int, rtt int32, recvRate, capacity int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if recvRate > 0 {
		if c.recvRate > 0 {
			c.recvRate = (c.recvRate*7 + recvRate) / 8
		} else {
			c.recvRate = recvRate
		}
	}
	if capacity > 0 {
		if c.capacity > 0 {
			c.capacity = (c.capacity*7 + capacity) / 8
		} else {
			c.capacity = capacity
		}
	}

	if c.slowStart {
		c.window += float64(newlyAcked)
		if advertised > 0 && c.window >= float64(advertised) {
			c.leaveSlowStart()
		}
	} else if c.recvRate > 0 {
		// size the window to one round-trip plus one SYN of traffic
		c.window = float64(c.recvRate)/1e6*float64(rtt+10000) + InitialWindow
	}

	if w := c.windowCap(advertised); c.window > w {
		c.window = w
	}
}

func (c *Controller) windowCap(advertised int) float64 {
	w := float64(MaxWindow)
	if advertised > 0 && float64(advertised) < w {
		w = float64(advertised)
	}
	return w
}

func (c *Controller) leaveSlowStart() {
	c.slowStart = false
	if c.recvRate > 0 {
		c.period = 1e6 / float64(c.recvRate)
	}
	if c.period < MinPeriod {
		c.period = MinPeriod
	}
}

// Tick runs one rate-control step; the engine calls it every SYN
// interval. The period moves toward the inverse of the reported link
// capacity, with a probe gain that shrinks as the estimate settles.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slowStart || c.capacity <= 0 {
		return
	}

	b := float64(c.capacity)
	r := float64(c.recvRate)

	if r >= b {
		c.period *= backoffFactor
		c.settle = 1
		return
	}

	gain := (b - r) / float64(c.settle)
	if gain < 1 {
		gain = 1
	}

	rate := 1e6/c.period + gain
	if rate > b {
		rate = b
	}

	c.period = 1e6 / rate
	if c.period < MinPeriod {
		c.period = MinPeriod
	}

	if c.settle < settleMax {
		c.settle++
	}
}

// OnLoss takes a loss event for lossSeq. The back-off applies only when
// the loss is newer than the span covered by the previous event; currSeq
// (the sender's newest emitted sequence) then bounds the new span so
// repeated NAKs inside one round-trip cannot trigger repeated cuts.
// Returns true when the back-off was applied.
func (c *Controller) OnLoss(lossSeq, currSeq int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastDecSeq >= 0 && seqno.Cmp(lossSeq, c.lastDecSeq) <= 0 {
		return false
	}

	c.slowStart = false
	c.period *= backoffFactor
	c.lastDecSeq = currSeq
	c.settle = 1
	return true
}

// OnWarning treats a received congestion-warning packet as a forced loss
// event covering the sender's newest emitted sequence.
func (c *Controller) OnWarning(currSeq int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slowStart = false
	c.period *= backoffFactor
	c.lastDecSeq = currSeq
	c.settle = 1
}

// Period returns the inter-packet sending period in microseconds.
func (c *Controller) Period() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

// PeriodDuration returns the inter-packet sending period as a duration.
func (c *Controller) PeriodDuration() time.Duration {
	return time.Duration(c.Period() * float64(time.Microsecond))
}

// Window returns the congestion window in packets.
func (c *Controller) Window() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.window)
}

// InSlowStart reports whether the controller is still in slow start.
func (c *Controller) InSlowStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slowStart
}
